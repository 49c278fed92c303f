package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// OutputFormat selects how a command renders its result.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// ParseFormat validates a --format flag value. Empty means text.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (expected text or json)", s)
	}
}

// Formatter writes a command result.
type Formatter interface {
	FormatTo(w io.Writer, result any) error
}

// TextFormatter prints results with %v, so a result type controls its text
// rendering through fmt.Stringer.
type TextFormatter struct{}

func (TextFormatter) FormatTo(w io.Writer, result any) error {
	_, err := fmt.Fprintln(w, result)
	return err
}

// JSONFormatter encodes results as one JSON document.
type JSONFormatter struct {
	Indent string
}

func (f JSONFormatter) FormatTo(w io.Writer, result any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", f.Indent)
	return enc.Encode(result)
}

// NewFormatter returns the formatter for format, falling back to text.
func NewFormatter(format OutputFormat) Formatter {
	if format == FormatJSON {
		return JSONFormatter{Indent: "  "}
	}
	return TextFormatter{}
}
