package asn1

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/geekxflood/proteus/internal/types"
)

// Formatter renders the content of a primitive node for Dump.
type Formatter func(*Node) string

// HexFormatter renders primitive content as hex bytes.
func HexFormatter(n *Node) string {
	return hex.EncodeToString(n.Data())
}

// Dump writes an indented, one-node-per-line view of the tree to w.
// A nil format falls back to HexFormatter.
func Dump(w io.Writer, root *Node, format Formatter) error {
	if format == nil {
		format = HexFormatter
	}
	depth := map[*Node]int{}
	return Traverse(root, func(n *Node) error {
		d := 0
		if n != root {
			d = depth[n.parent] + 1
		}
		depth[n] = d

		indent := strings.Repeat("  ", d)
		var err error
		if n.IsConstructed() {
			_, err = fmt.Fprintf(w, "%s%s (0x%02x) [%d]\n", indent, types.GetTypeName(n.tag), n.tag, len(n.children))
		} else {
			_, err = fmt.Fprintf(w, "%s%s (0x%02x) len=%d: %s\n", indent, types.GetTypeName(n.tag), n.tag, len(n.data), format(n))
		}
		return err
	})
}
