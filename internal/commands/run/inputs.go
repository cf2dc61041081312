package run

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// parseInputs merges --input-file contents with --input key=value pairs;
// explicit pairs win. Values that parse as JSON keep their type, everything
// else stays a string.
func parseInputs(pairs []string, inputFile string) (map[string]interface{}, error) {
	inputs := map[string]interface{}{}

	if inputFile != "" {
		data, err := readInputFile(inputFile)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("parse input file %s: %w", inputFile, err)
		}
	}

	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, want key=value", pair)
		}
		inputs[key] = coerceValue(raw)
	}
	return inputs, nil
}

func readInputFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// coerceValue keeps JSON-typed values (numbers, booleans, objects, arrays)
// typed; anything that does not parse stays a plain string.
func coerceValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
