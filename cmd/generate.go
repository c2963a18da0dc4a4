package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	outputFile string
	force      bool
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate sample configuration and data files",
	Long: `Generate a sample configuration file for the proteus SNMP agent, or a sample
JSON data file with --data.`,
	Example: `# Generate config to stdout
	proteus generate

	# Generate config to specific file
	proteus generate --output config.yaml

	# Generate a data file
	proteus generate --data --output mibs/device.json`,
	RunE: generateConfig,
}

var generateData bool

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (default: stdout)")
	generateCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing file")
	generateCmd.Flags().BoolVar(&generateData, "data", false, "Generate a sample JSON data file instead")
}

const sampleConfig = `# Proteus SNMP Agent Configuration
# This is a sample configuration file with default values.

app:
  name: "proteus"
  shutdown_timeout: "30s"

server:
  host: "0.0.0.0"
  port: 161
  tcp_enabled: false
  max_handlers: 100
  buffer_size: 65536
  read_timeout: "30s"
  max_connections: 64
  max_packet_size: 65507
  allowed_sources: []
  blocked_sources: []

snmp:
  community: "public"
  auth_required: true
  versions: ["1", "2c"]
  max_message_size: 65507

system:
  description: "Proteus SNMP agent"
  object_id: "1.3.6.1.4.1.99999.1"
  contact: "noc@example.com"
  name: "proteus"
  location: "unknown"
  services: 72
  interfaces: true

mibs:
  data_path: ["./mibs"]
  file_extensions: [".json"]
  max_file_size: 10485760
  recursive: true

storage:
  enabled: false
  connection_string: "./proteus.db"
  max_connections: 10
  query_timeout: "2s"

metrics:
  enabled: true
  listen_address: ":9161"
  metrics_path: "/metrics"
  health_path: "/health"
  ready_path: "/ready"
  update_interval: "30s"

reload:
  enabled: true
  watch_config_file: true
  watch_mib_directories: true
  reload_delay: "2s"
  validate_before_reload: true

logging:
  level: "info"
  format: "json"
`

const sampleData = `{
  "name": "sample-device",
  "objects": [
    {"oid": "1.3.6.1.4.1.99999.2.1.0", "type": "OctetString", "value": "sample"},
    {"oid": "1.3.6.1.4.1.99999.2.2.0", "type": "Integer", "value": 1},
    {"oid": "1.3.6.1.4.1.99999.2.3.0", "type": "Counter32", "value": 0},
    {"oid": "1.3.6.1.4.1.99999.2.4.0", "type": "IpAddress", "value": "192.0.2.1"},
    {"oid": "1.3.6.1.4.1.99999.2.5.0", "type": "TimeTicks", "value": 100}
  ]
}
`

func generateConfig(cmd *cobra.Command, args []string) error {
	content := sampleConfig
	if generateData {
		content = sampleData
	}

	if outputFile == "" {
		fmt.Fprint(cmd.OutOrStdout(), content)
		return nil
	}

	if _, err := os.Stat(outputFile); err == nil && !force {
		return fmt.Errorf("file %s already exists, use --force to overwrite", outputFile)
	}

	if dir := filepath.Dir(outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(outputFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "File generated: %s\n", outputFile)
	return nil
}
