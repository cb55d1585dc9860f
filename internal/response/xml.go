package response

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// ErrNoXMLRoot is returned when a body holds no complete XML element.
var ErrNoXMLRoot = errors.New("no xml root element")

// Node is a namespace-aware XML element. Only element text is kept;
// comments and processing instructions are dropped.
type Node struct {
	Name     xml.Name
	Attrs    []xml.Attr
	Text     string
	Children []*Node
}

// Local returns the element name without namespace.
func (n *Node) Local() string {
	if n == nil {
		return ""
	}
	return n.Name.Local
}

// Child returns the first direct child with the given local name.
func (n *Node) Child(local string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if strings.EqualFold(c.Name.Local, local) {
			return c
		}
	}
	return nil
}

// ChildText returns the trimmed text of a direct child, "" when absent.
func (n *Node) ChildText(local string) string {
	if c := n.Child(local); c != nil {
		return c.Text
	}
	return ""
}

// Find returns the first element (n included) with the given local name,
// depth first.
func (n *Node) Find(local string) *Node {
	if n == nil {
		return nil
	}
	if strings.EqualFold(n.Name.Local, local) {
		return n
	}
	for _, c := range n.Children {
		if f := c.Find(local); f != nil {
			return f
		}
	}
	return nil
}

// FindAll returns every element with the given local name in document
// order. Matches are not searched for nested matches.
func (n *Node) FindAll(local string) []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(x *Node) {
		if strings.EqualFold(x.Name.Local, local) {
			out = append(out, x)
			return
		}
		for _, c := range x.Children {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return out
}

// Attr returns an attribute value by local name.
func (n *Node) Attr(local string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// ParseXMLTree decodes the first root element of body. Content after the
// root element closes is ignored. Non UTF-8 documents are converted using
// their declared encoding.
func ParseXMLTree(body []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel

	var stack []*Node
	var text [][]byte
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrNoXMLRoot
			}
			return nil, fmt.Errorf("decode xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name, Attrs: append([]xml.Attr(nil), t.Attr...)}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
			text = append(text, nil)
		case xml.CharData:
			if len(text) > 0 {
				text[len(text)-1] = append(text[len(text)-1], t...)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("decode xml: unexpected </%s>", t.Name.Local)
			}
			n := stack[len(stack)-1]
			n.Text = strings.TrimSpace(string(text[len(text)-1]))
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
			if len(stack) == 0 {
				return n, nil
			}
		}
	}
}
