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
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"

	"github.com/multigres/pgrecover/go/mterrors"
)

// ByteSize is a size in bytes. Text forms use binary units whether or not
// the "i" is written, so 100MB and 100MiB are both 104857600 bytes; this
// matches the MiB Patroni reports as "MB".
type ByteSize int64

var byteUnits = map[string]int64{
	"":    1,
	"b":   1,
	"k":   1 << 10,
	"kb":  1 << 10,
	"kib": 1 << 10,
	"m":   1 << 20,
	"mb":  1 << 20,
	"mib": 1 << 20,
	"g":   1 << 30,
	"gb":  1 << 30,
	"gib": 1 << 30,
	"t":   1 << 40,
	"tb":  1 << 40,
	"tib": 1 << 40,
}

// ParseByteSize parses "104857600", "100MB", "100MiB", "1.5GB" and the like.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if i < 0 {
		i = len(s)
	}
	num, unit := s[:i], strings.ToLower(strings.TrimSpace(s[i:]))
	mult, ok := byteUnits[unit]
	if !ok || num == "" {
		return 0, mterrors.Errorf(codes.InvalidArgument, "invalid byte size %q", s)
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, mterrors.Errorf(codes.InvalidArgument, "invalid byte size %q", s)
	}
	v := n * float64(mult)
	if v > math.MaxInt64 {
		return 0, mterrors.Errorf(codes.InvalidArgument, "byte size %q overflows", s)
	}
	return ByteSize(math.Round(v)), nil
}

// Bytes returns the size as an int64.
func (b ByteSize) Bytes() int64 { return int64(b) }

func (b ByteSize) String() string { return strconv.FormatInt(int64(b), 10) }

// decodeByteSize is a mapstructure decode hook producing ByteSize from
// strings and numbers.
func decodeByteSize(from, to reflect.Type, data any) (any, error) {
	var b ByteSize
	if to != reflect.TypeOf(b) {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		return ParseByteSize(data.(string))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return ByteSize(reflect.ValueOf(data).Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return ByteSize(reflect.ValueOf(data).Uint()), nil
	case reflect.Float32, reflect.Float64:
		return ByteSize(math.Round(reflect.ValueOf(data).Float())), nil
	}
	return data, fmt.Errorf("invalid value for ByteSize: %v", data)
}
