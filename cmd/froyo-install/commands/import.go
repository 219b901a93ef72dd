package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/installengine/pkg/definition"
	"github.com/openfroyo/installengine/pkg/engine"
)

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <definition>",
		Short: "Import sequence tables into the database",
		Long: `Replace the UI and execute sequence tables in the database with those of a
package definition. 'install --tables-from-db' then reads them from there.`,
		Example: `  froyo-install import widget.cue --db ./data/froyo-install.db`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			def, err := definition.Load(args[0])
			if err != nil {
				return err
			}

			store, err := openStore(ctx, log.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			tables := def.Tables()
			if err := store.ImportTables(ctx, tables); err != nil {
				return fmt.Errorf("failed to import tables: %w", err)
			}

			log.Info().
				Str("product", def.Product.Name).
				Str("db", dbPath).
				Msg("Sequence tables imported")
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d UI and %d execute rows into %s\n",
				len(tables[engine.TableUI]), len(tables[engine.TableExecute]), dbPath)
			return nil
		},
	}
}
