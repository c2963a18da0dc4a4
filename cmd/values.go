package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/geekxflood/proteus/internal/app"
	"github.com/geekxflood/proteus/internal/storage"
	"github.com/geekxflood/proteus/internal/types"
)

// valuesCmd groups the managed value commands.
var valuesCmd = &cobra.Command{
	Use:   "values",
	Short: "Manage values held in the SQLite value store",
	Long: `Manage object instances held in the value store. Stored values are served
by the agent when storage.enabled is set; a running agent picks up new OIDs on
its next MIB reload and changed values immediately.`,
}

var valuesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored values",
	Args:  cobra.NoArgs,
	RunE:  runValuesList,
}

var valuesSetCmd = &cobra.Command{
	Use:     "set <oid> <type> <value>",
	Short:   "Store a value",
	Example: `	proteus values set 1.3.6.1.4.1.99999.3.1.0 Gauge32 42`,
	Args:    cobra.ExactArgs(3),
	RunE:    runValuesSet,
}

var valuesDeleteCmd = &cobra.Command{
	Use:   "delete <oid>",
	Short: "Delete a stored value",
	Args:  cobra.ExactArgs(1),
	RunE:  runValuesDelete,
}

func init() {
	rootCmd.AddCommand(valuesCmd)
	valuesCmd.AddCommand(valuesListCmd, valuesSetCmd, valuesDeleteCmd)
}

// openStorage opens the configured value store regardless of
// storage.enabled.
func openStorage() (*storage.Storage, func(), error) {
	manager, _, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := app.NewLogger(manager)
	if err != nil {
		manager.Close()
		return nil, nil, err
	}

	store, err := storage.Open(storage.LoadStorageConfig(manager), logger)
	if err != nil {
		manager.Close()
		return nil, nil, err
	}

	return store, func() {
		store.Close()
		manager.Close()
	}, nil
}

func runValuesList(cmd *cobra.Command, args []string) error {
	store, closeFn, err := openStorage()
	if err != nil {
		return err
	}
	defer closeFn()

	values, err := store.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OID\tTYPE\tVALUE\tUPDATED")
	for _, v := range values {
		decoded, err := v.Decode()
		text := fmt.Sprintf("%v", decoded)
		if err != nil {
			text = "invalid: " + err.Error()
		} else if b, ok := decoded.([]byte); ok {
			text = fmt.Sprintf("%q", b)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.OID, types.GetTypeName(v.Type), text, v.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runValuesSet(cmd *cobra.Command, args []string) error {
	oid, err := types.ParseOID(args[0])
	if err != nil {
		return err
	}
	objectType, err := types.ParseTypeName(args[1])
	if err != nil {
		return err
	}

	store, closeFn, err := openStorage()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := store.PutText(oid, objectType, args[2]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s = %s: %s\n", oid, types.GetTypeName(objectType), args[2])
	return nil
}

func runValuesDelete(cmd *cobra.Command, args []string) error {
	oid, err := types.ParseOID(args[0])
	if err != nil {
		return err
	}

	store, closeFn, err := openStorage()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := store.Delete(oid); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", oid)
	return nil
}
