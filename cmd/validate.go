package cmd

import (
	"fmt"
	"os"

	"github.com/geekxflood/common/config"
	"github.com/spf13/cobra"

	"github.com/geekxflood/proteus/internal/app"
	"github.com/geekxflood/proteus/internal/loader"
	"github.com/geekxflood/proteus/internal/provider"
	"github.com/geekxflood/proteus/internal/snmp"
)

var (
	checkData bool
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and data files",
	Long:  `Validate configuration files and optionally parse every data file.`,
	Example: `# Validate configuration file
	proteus validate --config config.yaml

	# Validate configuration and data files
	proteus validate --config config.yaml --check-data`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&checkData, "check-data", false, "Also parse the configured data files")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	configPath := findConfigFile()
	if configPath == "" {
		return fmt.Errorf("no configuration file found, specify with --config or create config.yaml")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating configuration file: %s\n", configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("configuration file not found: %s", configPath)
	}

	manager, err := config.NewManager(config.Options{
		SchemaPath: schemaFile,
		ConfigPath: configPath,
	})
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	defer manager.Close()

	if err := manager.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration syntax is valid")

	if _, err := snmp.LoadProcessorConfig(manager); err != nil {
		return fmt.Errorf("snmp section is invalid: %w", err)
	}
	if _, err := provider.LoadSystemConfig(manager); err != nil {
		return fmt.Errorf("system section is invalid: %w", err)
	}
	fmt.Fprintln(out, "✓ Agent settings are consistent")

	if checkData {
		if err := validateDataFiles(cmd, manager); err != nil {
			return fmt.Errorf("data file validation failed: %w", err)
		}
	}

	fmt.Fprintln(out, "✓ Configuration validation completed successfully")
	return nil
}

func validateDataFiles(cmd *cobra.Command, manager config.Provider) error {
	logger, err := app.NewLogger(manager)
	if err != nil {
		return err
	}

	l, err := loader.NewLoader(manager, logger)
	if err != nil {
		return err
	}
	if err := l.LoadAll(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, file := range l.GetAllFiles() {
		if !file.ParsedOK {
			failed++
			fmt.Fprintf(out, "  ✗ %s: %s\n", file.Path, file.ParseError)
			continue
		}
		fmt.Fprintf(out, "  ✓ %s (%d objects)\n", file.Path, len(file.Definitions))
	}

	stats := l.GetStats()
	if stats.FilesLoaded == 0 && failed == 0 {
		return fmt.Errorf("no data files found in %v", l.GetConfig().DataPaths)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d data files failed to parse", failed, len(l.GetAllFiles()))
	}

	fmt.Fprintf(out, "✓ %d data files, %d objects\n", stats.FilesLoaded, stats.DefinitionsLoaded)
	return nil
}
