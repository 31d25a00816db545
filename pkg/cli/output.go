package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func formatFlag(dst *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "format",
		Aliases:     []string{"f"},
		Usage:       "Output format (text, json, yaml)",
		Value:       formatText,
		Destination: dst,
	}
}

// printStructured writes v as JSON or YAML. It returns false for the text
// format, which each command renders itself.
func printStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, goerr.Wrap(err, "failed to marshal output")
		}
		fmt.Fprintf(w, "%s\n", string(data))
		return true, nil

	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, goerr.Wrap(err, "failed to marshal output")
		}
		return true, enc.Close()

	case formatText, "":
		return false, nil

	default:
		return true, goerr.New("unsupported format", goerr.V("format", format))
	}
}

// parseMetadata turns key=value pairs into a metadata map. Values that parse
// as JSON (numbers, booleans, null, quoted strings) keep their JSON type.
func parseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	meta := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, goerr.New("metadata must be key=value", goerr.V("pair", pair))
		}

		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		meta[key] = v
	}
	return meta, nil
}
