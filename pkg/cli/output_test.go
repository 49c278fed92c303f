package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

type report struct {
	Valid bool `json:"valid"`
}

func (r report) String() string {
	if r.Valid {
		return "ok"
	}
	return "broken"
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{" JSON ", FormatJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewFormatter_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatText).FormatTo(&buf, report{Valid: true}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "ok\n" {
		t.Errorf("text output = %q, want Stringer rendering", buf.String())
	}

	buf.Reset()
	if err := NewFormatter("unknown").FormatTo(&buf, 42); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "42\n" {
		t.Errorf("unknown format should fall back to text, got %q", buf.String())
	}
}

func TestNewFormatter_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatJSON).FormatTo(&buf, report{Valid: false}); err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if got["valid"] != false {
		t.Errorf("valid = %v", got["valid"])
	}
	if !strings.Contains(buf.String(), "\n  \"valid\"") {
		t.Errorf("expected indented output, got %q", buf.String())
	}
}

func TestJSONFormatter_Compact(t *testing.T) {
	var buf bytes.Buffer
	if err := (JSONFormatter{}).FormatTo(&buf, map[string]int{"routes": 5}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "{\"routes\":5}\n" {
		t.Errorf("compact output = %q", buf.String())
	}
}
