package codec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Node is one element of a parsed block.
type Node struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Text     string            `json:"text,omitempty"`
	Children []*Node           `json:"children,omitempty"`
}

// Attr returns the named attribute and whether it was present.
func (n *Node) Attr(name string) (string, bool) {
	if n == nil {
		return "", false
	}
	value, ok := n.Attrs[name]
	return value, ok
}

// Get returns the named attribute or "".
func (n *Node) Get(name string) string {
	value, _ := n.Attr(name)
	return value
}

// Find returns the first direct child with the given tag.
func (n *Node) Find(tag string) *Node {
	if n == nil {
		return nil
	}
	for _, child := range n.Children {
		if child.Tag == tag {
			return child
		}
	}
	return nil
}

// FindAll returns the direct children with the given tag in document order.
func (n *Node) FindAll(tag string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, child := range n.Children {
		if child.Tag == tag {
			out = append(out, child)
		}
	}
	return out
}

// Document is one parsed protocol block.
type Document struct {
	Root *Node `json:"root"`
	// Raw is the normalized block text the tree was parsed from.
	Raw string `json:"-"`
}

// Tag returns the root tag, e.g. RECOGOUT or INPUT.
func (d *Document) Tag() string {
	if d == nil || d.Root == nil {
		return ""
	}
	return d.Root.Tag
}

// The server writes sentence boundary markers unescaped, even inside
// attribute values (WORD="<s>"), which no XML parser accepts.
var markerReplacer = strings.NewReplacer(
	"<s>", "&lt;s&gt;",
	"</s>", "&lt;/s&gt;",
)

// Normalize escapes bare <s> and </s> markers. Escaped input is left as is.
func Normalize(block string) string {
	return markerReplacer.Replace(block)
}

// Parse normalizes block and parses it into a Document. Any syntax problem,
// including an empty or truncated block, returns an error wrapping
// ErrMalformedBlock.
func Parse(block string) (*Document, error) {
	normalized := Normalize(block)
	decoder := xml.NewDecoder(strings.NewReader(normalized))

	var (
		root  *Node
		stack []*Node
	)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return nil, malformed(errors.New("junk after document element"))
			}
			node := &Node{Tag: t.Name.Local}
			if len(t.Attr) > 0 {
				node.Attrs = make(map[string]string, len(t.Attr))
				for _, attr := range t.Attr {
					node.Attrs[attr.Name.Local] = attr.Value
				}
			}
			if len(stack) == 0 {
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, malformed(fmt.Errorf("unexpected end element %s", t.Name.Local))
			}
			node := stack[len(stack)-1]
			node.Text = strings.TrimSpace(node.Text)
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					return nil, malformed(errors.New("text outside document element"))
				}
				continue
			}
			stack[len(stack)-1].Text += string(t)
		}
	}

	if root == nil {
		return nil, malformed(errors.New("no document element"))
	}
	if len(stack) > 0 {
		return nil, malformed(fmt.Errorf("unclosed element %s", stack[len(stack)-1].Tag))
	}
	return &Document{Root: root, Raw: normalized}, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedBlock, err)
}
