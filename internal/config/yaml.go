package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

var yamlExts = map[string]bool{".yaml": true, ".yml": true}

// toJSON rewrites a YAML config as JSON so that one strict decoder handles
// both formats. Non-YAML paths pass through untouched.
func toJSON(path string, data []byte) ([]byte, error) {
	if !yamlExts[strings.ToLower(filepath.Ext(path))] {
		return data, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc any
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("yaml: expected a single document")
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	tree, err := stringKeys(doc)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("yaml: re-encode: %w", err)
	}
	return out, nil
}

// stringKeys makes a decoded YAML tree JSON-encodable. Mappings with
// non-string keys (a bare `1:` or `true:`) have their keys stringified.
func stringKeys(node any) (any, error) {
	var err error
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			if n[k], err = stringKeys(v); err != nil {
				return nil, err
			}
		}
		return n, nil
	case map[any]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			key := fmt.Sprint(k)
			if _, dup := out[key]; dup {
				return nil, fmt.Errorf("yaml: key %q appears twice after conversion", key)
			}
			if out[key], err = stringKeys(v); err != nil {
				return nil, err
			}
		}
		return out, nil
	case []any:
		for i, v := range n {
			if n[i], err = stringKeys(v); err != nil {
				return nil, err
			}
		}
		return n, nil
	default:
		return node, nil
	}
}
