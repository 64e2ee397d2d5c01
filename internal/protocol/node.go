package protocol

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

type (
	// Node is a generic XML element with its children in document order.
	// Both historical schemas are duck-typed, so the codec and normalizer
	// walk nodes instead of unmarshalling into fixed structs; preserving
	// encounter order is what makes the signed-data string reproducible.
	Node struct {
		XMLName  xml.Name
		Attrs    []xml.Attr `xml:",any,attr"`
		Children []Node     `xml:",any"`
		Text     string     `xml:",chardata"`
	}
)

func ParseXML(data []byte) (*Node, error) {
	var n Node
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return &n, nil
}

// Name is the element's local name, namespace prefixes ignored.
func (n *Node) Name() string {
	return n.XMLName.Local
}

// Child returns the first child with the given local name, or nil.
func (n *Node) Child(local string) *Node {
	for i := range n.Children {
		if n.Children[i].XMLName.Local == local {
			return &n.Children[i]
		}
	}
	return nil
}

// Attr returns the value of the attribute with the given local name.
func (n *Node) Attr(local string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// Value is the element's character data with surrounding space trimmed.
func (n *Node) Value() string {
	return strings.TrimSpace(n.Text)
}
