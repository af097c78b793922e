package document

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseYAML reads an element tree from a YAML document.
//
// The document is a mapping with a single key, the root element name. An
// element value is one of:
//
//   - a scalar, which becomes the character data;
//   - a mapping, where "@name" keys are attributes, "#text" is character
//     data and every other key is a child element, in document order;
//   - a sequence of mappings, each applied in turn as above, which allows
//     repeated child names such as several data elements.
func ParseYAML(r io.Reader) (*Element, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML document: %w", err)
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, fmt.Errorf("failed to parse YAML document: empty document")
		}
		root = root.Content[0]
	}

	if root.Kind != yaml.MappingNode || len(root.Content) != 2 {
		return nil, fmt.Errorf("failed to parse YAML document: expected a single root element (line %d)", root.Line)
	}

	return elementFromNode(root.Content[0].Value, root.Content[1])
}

func elementFromNode(name string, n *yaml.Node) (*Element, error) {
	el := &Element{Name: name}

	if n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}

	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag != "!!null" {
			el.Text = n.Value
		}
	case yaml.MappingNode:
		if err := applyMapping(el, n); err != nil {
			return nil, err
		}
	case yaml.SequenceNode:
		for _, item := range n.Content {
			if item.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("element %s: sequence items must be mappings (line %d)", name, item.Line)
			}
			if err := applyMapping(el, item); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("element %s: unsupported YAML node (line %d)", name, n.Line)
	}

	return el, nil
}

func applyMapping(el *Element, n *yaml.Node) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		val := n.Content[i+1]

		switch {
		case strings.HasPrefix(key, "@"):
			if val.Kind != yaml.ScalarNode {
				return fmt.Errorf("element %s: attribute %s must be a scalar (line %d)", el.Name, key, val.Line)
			}
			el.Attrs = append(el.Attrs, Attr{Name: strings.TrimPrefix(key, "@"), Value: val.Value})
		case key == "#text":
			el.Text += val.Value
		default:
			child, err := elementFromNode(key, val)
			if err != nil {
				return err
			}
			el.Children = append(el.Children, child)
		}
	}
	return nil
}

// Load reads a document from path, choosing the parser by file extension.
// Unknown extensions are parsed as XML.
func Load(path string) (*Element, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(f)
	default:
		return ParseXML(f)
	}
}
