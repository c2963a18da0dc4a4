// Package cmd provides the command-line interface for proteus.
package cmd

import (
	"fmt"
	"os"

	"github.com/geekxflood/common/config"
	"github.com/spf13/cobra"

	"github.com/geekxflood/proteus/internal/app"
)

var (
	cfgFile    string
	schemaFile string
	version    = "dev" // Will be set by build flags
)

// defaultConfigPaths are tried in order when --config is not given.
var defaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/proteus/config.yaml",
	"/etc/proteus/config.yml",
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "proteus",
	Version: version,
	Short:   "SNMP v1/v2c agent",
	Long: `Proteus is an SNMP v1/v2c agent. It answers GET and GET-NEXT requests over
UDP and TCP from a MIB tree built from its configuration, JSON data files and
an optional SQLite value store.`,
	Example: `# Start the agent with default config
	proteus

	# Start with specific configuration file
	proteus --config /etc/proteus/config.yaml

	# Generate sample configuration
	proteus generate --output config.yaml

	# Query a running agent
	proteus walk --target 127.0.0.1 --oid 1.3.6.1.2.1.1`,
	SilenceUsage: true,
	RunE:         runServer,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	manager, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer manager.Close()

	logger, err := app.NewLogger(manager)
	if err != nil {
		return err
	}

	application, err := app.NewApplication(manager, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if err := application.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	application.SetConfigFile(configPath)

	return application.Run()
}

// findConfigFile returns the --config path or the first default location
// that exists. An empty result means schema defaults only.
func findConfigFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func loadConfig() (config.Manager, string, error) {
	configPath := findConfigFile()

	options := config.Options{
		SchemaPath: schemaFile,
		ConfigPath: configPath,
	}

	if configPath == "" {
		fmt.Fprintln(os.Stderr, "No configuration file found, using schema defaults")
	} else {
		fmt.Fprintf(os.Stderr, "Loading configuration from: %s\n", configPath)
	}

	manager, err := config.NewManager(options)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create config manager: %w", err)
	}

	return manager, configPath, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&schemaFile, "schema", "cmd/schemas/config.cue", "Configuration schema path")
}
