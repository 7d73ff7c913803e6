// Copyright 2026 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/multigres/pgrecover/go/mterrors"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"104857600", 104857600},
		{"100MB", 100 << 20},
		{"100MiB", 100 << 20},
		{"100mb", 100 << 20},
		{"100 MiB", 100 << 20},
		{"1GB", 1 << 30},
		{"1.5GiB", 3 << 29},
		{"512k", 512 << 10},
		{"0", 0},
		{" 2048B ", 2048},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseByteSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseByteSize_Invalid(t *testing.T) {
	for _, in := range []string{"", "MB", "ten", "10XB", "1.2.3", "-5"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseByteSize(in)
			require.Error(t, err)
			assert.Equal(t, codes.InvalidArgument, mterrors.Code(err))
		})
	}
}
