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

package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"google.golang.org/grpc/codes"
	"gopkg.in/yaml.v3"

	"github.com/multigres/pgrecover/go/mterrors"
)

// Format selects how a report is rendered.
type Format string

const (
	// FormatText renders the narration followed by the JSON issue array.
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	}
	return "", mterrors.Errorf(codes.InvalidArgument, "unknown report format %q (want text, json or yaml)", s)
}

// document is the structured form used by the json and yaml formats.
type document struct {
	Narration []string `json:"narration" yaml:"narration"`
	Issues    []Issue  `json:"issues" yaml:"issues"`
}

func (r *Report) document() document {
	doc := document{Narration: r.Narration(), Issues: r.Issues()}
	// An empty run renders [] rather than null.
	if doc.Narration == nil {
		doc.Narration = []string{}
	}
	if doc.Issues == nil {
		doc.Issues = []Issue{}
	}
	return doc
}

// Render writes the report to w in the given format.
func (r *Report) Render(w io.Writer, format Format) error {
	doc := r.document()
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		var buf bytes.Buffer
		for _, line := range doc.Narration {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
		buf.WriteString("\nIssues:\n")
		issues, err := json.MarshalIndent(doc.Issues, "", "  ")
		if err != nil {
			return err
		}
		buf.Write(issues)
		buf.WriteByte('\n')
		_, err = w.Write(buf.Bytes())
		return err
	}
	return mterrors.Errorf(codes.InvalidArgument, "unknown report format %q", format)
}

// WriteFile renders the report into path on fs, creating parent
// directories as needed.
func (r *Report) WriteFile(fs afero.Fs, path string, format Format) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return mterrors.Wrapf(err, "failed to create report directory %s", dir)
		}
	}
	var buf bytes.Buffer
	if err := r.Render(&buf, format); err != nil {
		return err
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0o644); err != nil {
		return mterrors.Wrap(err, fmt.Sprintf("failed to write report to %s", path))
	}
	return nil
}
