package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/installengine/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded install runs",
		Example: `  froyo-install history --limit 5
  froyo-install history show 5f0c2d9e-...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, log.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			t := newTable(false, "RUN", "PRODUCT", "VERSION", "STATUS", "OUTCOME", "RESULT", "STARTED")
			for _, r := range runs {
				t.Row(r.ID, r.Product, r.Version, string(r.Status), r.Outcome,
					strconv.Itoa(r.ResultCode), r.StartedAt.Format(time.RFC3339))
			}
			return renderTable(out, t)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	cmd.AddCommand(newHistoryShowCommand())

	return cmd
}

type runDetail struct {
	Run        *stores.Run               `json:"run"`
	Events     []*stores.ActionEvent     `json:"events"`
	Operations []*stores.OperationRecord `json:"operations"`
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the actions and operations of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, log.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			events, err := store.ListActionEvents(ctx, run.ID)
			if err != nil {
				return err
			}
			ops, err := store.ListOperations(ctx, run.ID)
			if err != nil {
				return err
			}

			detail := runDetail{Run: run, Events: events, Operations: ops}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), detail)
			}
			return detail.write(cmd.OutOrStdout())
		},
	}
}

func (d runDetail) write(out io.Writer) error {
	r := d.Run
	fmt.Fprintf(out, "Run %s: %s %s\n", r.ID, r.Product, r.Version)
	fmt.Fprintf(out, "Status: %s, outcome %s (result %d)\n", r.Status, r.Outcome, r.ResultCode)
	if r.Error != nil {
		fmt.Fprintf(out, "Error: %s\n", *r.Error)
	}

	fmt.Fprintln(out, "\nActions:")
	actions := newTable(true)
	for _, e := range d.Events {
		if e.Phase != stores.PhaseFinished {
			continue
		}
		code := "-"
		if e.ResultCode != nil {
			code = strconv.Itoa(*e.ResultCode)
		}
		actions.Row(e.Timestamp.Format(time.RFC3339), e.Action, code)
	}
	if err := renderTable(out, actions); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nOperations:")
	ops := newTable(true)
	for _, op := range d.Operations {
		ops.Row(op.Action, op.Kind, op.Target, op.Detail)
	}
	return renderTable(out, ops)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
