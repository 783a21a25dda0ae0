// Package output renders command results as styled text, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects how a command result is written.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts text, json, yaml (and yml).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text, json or yaml)", s)
	}
}

// JSONTo writes any data structure as formatted JSON to the specified writer.
func JSONTo(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// YAMLTo writes any data structure as YAML with two-space indentation.
func YAMLTo(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return err
	}
	return encoder.Close()
}

// Write dispatches on format. text is called for FormatText only.
func Write(w io.Writer, format Format, data any, text func(io.Writer) error) error {
	switch format {
	case FormatJSON:
		return JSONTo(w, data)
	case FormatYAML:
		return YAMLTo(w, data)
	default:
		return text(w)
	}
}
