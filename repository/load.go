package repository

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is a serialization format of a configuration document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported configuration format")
	ErrNotAnObject       = errors.New("configuration document must be a mapping")
)

// FormatOf derives the format from a file extension.
func FormatOf(file string) (Format, error) {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, file)
	}
}

// LoadFile parses the document at file into a node tree.
func LoadFile(file string) (*Node, error) {
	format, err := FormatOf(file)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	root, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	return root, nil
}

// Parse turns a document into a node tree. Mappings become child nodes in
// document order; every other value becomes a property of its parent.
func Parse(data []byte, format Format) (*Node, error) {
	switch format {
	case FormatYAML:
		return parseYAML(data)
	case FormatTOML:
		return parseTOML(data)
	case FormatJSON:
		return parseJSON(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func parseYAML(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	root := NewNode("", nil)
	if len(doc.Content) == 0 {
		return root, nil
	}
	top := doc.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, ErrNotAnObject
	}
	return root, fillYAML(root, top)
}

func fillYAML(n *Node, mapping *yaml.Node) error {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := mapping.Content[i].Value, mapping.Content[i+1]
		if value.Kind == yaml.MappingNode {
			if err := fillYAML(n.AddChild(NewNode(key, nil)), value); err != nil {
				return err
			}
			continue
		}
		var v any
		if err := value.Decode(&v); err != nil {
			return fmt.Errorf("property %s/%s: %w", n.path, key, err)
		}
		n.properties[key] = v
	}
	return nil
}

func parseTOML(data []byte) (*Node, error) {
	var doc map[string]any
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, err
	}
	root := NewNode("", nil)
	for _, key := range md.Keys() {
		value, ok := lookupTOML(doc, key)
		if !ok {
			continue
		}
		if _, isTable := value.(map[string]any); isTable {
			ensurePath(root, key)
			continue
		}
		parent := ensurePath(root, key[:len(key)-1])
		parent.properties[key[len(key)-1]] = value
	}
	return root, nil
}

// lookupTOML follows key through nested tables only; keys inside arrays of
// tables are reported as missing.
func lookupTOML(doc map[string]any, key toml.Key) (any, bool) {
	var current any = doc
	for _, part := range key {
		table, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = table[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

func ensurePath(root *Node, parts []string) *Node {
	n := root
	for _, part := range parts {
		c := n.child(part)
		if c == nil {
			c = n.AddChild(NewNode(part, nil))
		}
		n = c
	}
	return n
}

func parseJSON(data []byte) (*Node, error) {
	root := NewNode("", nil)
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return root, nil
	}
	if trimmed[0] != '{' {
		return nil, ErrNotAnObject
	}
	return root, fillJSON(root, trimmed)
}

func fillJSON(n *Node, object []byte) error {
	dec := json.NewDecoder(bytes.NewReader(object))
	if _, err := dec.Token(); err != nil {
		return err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("property %s/%s: %w", n.path, key, err)
		}
		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
			if err := fillJSON(n.AddChild(NewNode(key, nil)), trimmed); err != nil {
				return err
			}
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("property %s/%s: %w", n.path, key, err)
		}
		n.properties[key] = v
	}
	_, err := dec.Token()
	return err
}
