package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/geekxflood/proteus/internal/asn1"
	"github.com/geekxflood/proteus/internal/ber"
)

var decodeRaw bool

// decodeCmd prints the ASN.1 tree of a BER encoded message.
var decodeCmd = &cobra.Command{
	Use:   "decode [hex]",
	Short: "Decode a BER message and print its ASN.1 tree",
	Long: `Decode a BER encoded message given as hex (spaces and colons allowed) and
print one line per node. Without an argument the hex is read from stdin.`,
	Example: `# Decode a GetRequest
	proteus decode 302902010004067075626c6963a01c0204...

	# Show primitive content as raw hex
	proteus decode --raw < packet.hex`,
	Args: cobra.MaximumNArgs(1),
	RunE: decodeMessage,
}

func init() {
	rootCmd.AddCommand(decodeCmd)

	decodeCmd.Flags().BoolVar(&decodeRaw, "raw", false, "Print primitive content as hex instead of decoded values")
}

func decodeMessage(cmd *cobra.Command, args []string) error {
	var text string
	if len(args) == 1 {
		text = args[0]
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}

	packet, err := parseHex(text)
	if err != nil {
		return err
	}

	root, consumed, err := ber.DecodeTree(packet)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	format := asn1.Formatter(ber.FormatValue)
	if decodeRaw {
		format = asn1.HexFormatter
	}
	if err := asn1.Dump(cmd.OutOrStdout(), root, format); err != nil {
		return err
	}

	if consumed < len(packet) {
		fmt.Fprintf(os.Stderr, "warning: %d trailing bytes ignored\n", len(packet)-consumed)
	}
	return nil
}

// parseHex accepts hex with optional whitespace, colon separators and a
// 0x prefix.
func parseHex(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "0x")
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, text)

	packet, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	if len(packet) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	return packet, nil
}
