package ber

import (
	"fmt"

	"github.com/geekxflood/proteus/internal/asn1"
	"github.com/geekxflood/proteus/internal/types"
)

// MaxDepth bounds the nesting of constructed nodes accepted by DecodeTree.
// SNMP messages nest four levels deep.
const MaxDepth = 16

// highTagForm marks the multi-byte tag number form, which SNMP never uses.
const highTagForm = 0x1f

// DecodeTree decodes one ASN.1 object from the start of data and returns the
// tree together with the number of bytes consumed (tag, length field and
// content). Primitive nodes borrow their content from data.
func DecodeTree(data []byte) (*asn1.Node, int, error) {
	return decodeNode(nil, data, 0, 0)
}

func decodeNode(parent *asn1.Node, data []byte, offset, depth int) (*asn1.Node, int, error) {
	if len(data) == 0 {
		return nil, 0, types.NewParseError(offset, "missing tag")
	}

	tag := data[0]
	if tag&highTagForm == highTagForm {
		return nil, 0, types.NewParseError(offset, "high tag number form 0x%02x is not supported", tag)
	}

	length, n, err := DecodeLength(data[1:])
	if err != nil {
		return nil, 0, types.NewParseError(offset+1, "tag 0x%02x: %v", tag, err)
	}
	header := 1 + n
	if length > len(data)-header {
		return nil, 0, types.NewParseError(offset+header, "tag 0x%02x declares %d content bytes, %d remain", tag, length, len(data)-header)
	}
	content := data[header : header+length]

	if !types.IsConstructed(tag) {
		node, err := asn1.NewNode(parent, tag, content, asn1.Borrowed)
		if err != nil {
			return nil, 0, err
		}
		return node, header + length, nil
	}

	if depth >= MaxDepth {
		return nil, 0, types.NewParseError(offset, "nesting exceeds %d levels", MaxDepth)
	}
	node, err := asn1.NewNode(parent, tag, nil, asn1.Owned)
	if err != nil {
		return nil, 0, err
	}
	for pos := 0; pos < length; {
		_, consumed, err := decodeNode(node, content[pos:], offset+header+pos, depth+1)
		if err != nil {
			return nil, 0, err
		}
		pos += consumed
	}
	return node, header + length, nil
}

// EncodeTree serializes root. A first pass records every node's encoded
// size bottom-up; the second writes into a single buffer of the root's size,
// children in stored order.
func EncodeTree(root *asn1.Node) ([]byte, error) {
	if root == nil {
		return nil, fmt.Errorf("encode of nil tree: %w", types.ErrInvalidArgument)
	}
	if err := computeSize(root); err != nil {
		return nil, err
	}

	out := writeNode(make([]byte, 0, root.EncodedSize()), root)
	if len(out) != root.EncodedSize() {
		return nil, fmt.Errorf("encoded %d bytes, size pass computed %d: %w", len(out), root.EncodedSize(), types.ErrMalformedEncoding)
	}
	return out, nil
}

func computeSize(n *asn1.Node) error {
	if n.Tag()&highTagForm == highTagForm {
		return fmt.Errorf("tag 0x%02x uses the high tag number form: %w", n.Tag(), types.ErrInvalidArgument)
	}
	content := len(n.Data())
	if n.IsConstructed() {
		content = 0
		for _, child := range n.Children() {
			if err := computeSize(child); err != nil {
				return err
			}
			content += child.EncodedSize()
		}
	}
	n.SetEncodedSize(1 + LengthLen(content) + content)
	return nil
}

func contentLen(n *asn1.Node) int {
	if !n.IsConstructed() {
		return len(n.Data())
	}
	total := 0
	for _, child := range n.Children() {
		total += child.EncodedSize()
	}
	return total
}

func writeNode(dst []byte, n *asn1.Node) []byte {
	dst = append(dst, n.Tag())
	dst = AppendLength(dst, contentLen(n))
	if !n.IsConstructed() {
		return append(dst, n.Data()...)
	}
	for _, child := range n.Children() {
		dst = writeNode(dst, child)
	}
	return dst
}
