package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/spf13/cobra"
)

var (
	target    string
	port      uint16
	community string
	snmpVer   string
	timeout   time.Duration
	retries   int
	oids      []string
)

// getCmd sends a GetRequest to an agent.
var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Send a GetRequest to an SNMP agent",
	Example: `# Read sysDescr and sysUpTime
	proteus get --target 127.0.0.1 --oid 1.3.6.1.2.1.1.1.0 --oid 1.3.6.1.2.1.1.3.0`,
	RunE: runGet,
}

// walkCmd walks a subtree with GetNextRequests.
var walkCmd = &cobra.Command{
	Use:   "walk",
	Short: "Walk an SNMP agent subtree with GetNextRequests",
	Example: `# Walk the system group
	proteus walk --target 127.0.0.1 --oid 1.3.6.1.2.1.1`,
	RunE: runWalk,
}

func init() {
	for _, c := range []*cobra.Command{getCmd, walkCmd} {
		rootCmd.AddCommand(c)
		c.Flags().StringVarP(&target, "target", "t", "127.0.0.1", "Agent address")
		c.Flags().Uint16VarP(&port, "port", "p", 161, "Agent port")
		c.Flags().StringVar(&community, "community", "public", "Community string")
		c.Flags().StringVar(&snmpVer, "snmp-version", "2c", "SNMP version (1 or 2c)")
		c.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "Request timeout")
		c.Flags().IntVar(&retries, "retries", 1, "Request retries")
		c.Flags().StringSliceVarP(&oids, "oid", "o", nil, "Object identifier (repeatable)")
	}
}

// newSNMPClient connects a gosnmp client from the command flags.
func newSNMPClient() (*gosnmp.GoSNMP, error) {
	var version gosnmp.SnmpVersion
	switch strings.ToLower(snmpVer) {
	case "1", "v1":
		version = gosnmp.Version1
	case "2c", "v2c":
		version = gosnmp.Version2c
	default:
		return nil, fmt.Errorf("unsupported SNMP version %q", snmpVer)
	}

	client := &gosnmp.GoSNMP{
		Target:    target,
		Port:      port,
		Community: community,
		Version:   version,
		Timeout:   timeout,
		Retries:   retries,
		MaxOids:   gosnmp.MaxOids,
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s:%d: %w", target, port, err)
	}
	return client, nil
}

func runGet(cmd *cobra.Command, args []string) error {
	if len(oids) == 0 {
		return fmt.Errorf("at least one --oid is required")
	}

	client, err := newSNMPClient()
	if err != nil {
		return err
	}
	defer client.Conn.Close()

	result, err := client.Get(oids)
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	if result.Error != gosnmp.NoError {
		return fmt.Errorf("agent returned %v at index %d", result.Error, result.ErrorIndex)
	}

	for _, pdu := range result.Variables {
		printPDU(cmd.OutOrStdout(), pdu)
	}
	return nil
}

func runWalk(cmd *cobra.Command, args []string) error {
	root := "1.3.6.1.2.1"
	if len(oids) > 0 {
		root = oids[0]
	}

	client, err := newSNMPClient()
	if err != nil {
		return err
	}
	defer client.Conn.Close()

	count := 0
	err = client.Walk(root, func(pdu gosnmp.SnmpPDU) error {
		printPDU(cmd.OutOrStdout(), pdu)
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk failed after %d objects: %w", count, err)
	}
	return nil
}

func printPDU(w io.Writer, pdu gosnmp.SnmpPDU) {
	var value string
	switch pdu.Type {
	case gosnmp.OctetString:
		b, _ := pdu.Value.([]byte)
		value = fmt.Sprintf("%q", b)
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		value = "-"
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Counter64, gosnmp.Uinteger32:
		value = gosnmp.ToBigInt(pdu.Value).String()
	default:
		value = fmt.Sprintf("%v", pdu.Value)
	}
	fmt.Fprintf(w, "%s = %v: %s\n", strings.TrimPrefix(pdu.Name, "."), pdu.Type, value)
}
