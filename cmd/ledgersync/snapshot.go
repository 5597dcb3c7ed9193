package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-ledger-sync/internal/domain"
	"github.com/tbourn/go-ledger-sync/internal/persist"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect or clear persisted snapshots",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <group>",
			Short: "Print the stored snapshot of a group as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withAdapter(func(a *persist.Adapter) error {
					recs := a.Load(cmd.Context(), domain.NormalizeGroupKey(args[0]))
					return printJSON(cmd, recs)
				})
			},
		},
		&cobra.Command{
			Use:   "local",
			Short: "Print unexpired local pending submissions as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withAdapter(func(a *persist.Adapter) error {
					return printJSON(cmd, a.LoadLocalPendingSet(cmd.Context()))
				})
			},
		},
		&cobra.Command{
			Use:   "clear <group>...",
			Short: "Remove the stored snapshot of one or more groups",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withAdapter(func(a *persist.Adapter) error {
					for _, g := range args {
						key := domain.NormalizeGroupKey(g)
						a.Forget(cmd.Context(), key)
						fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", key)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func withAdapter(fn func(*persist.Adapter) error) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	kv, err := openKV(cfg)
	if err != nil {
		return err
	}
	defer kv.Close()
	return fn(persist.New(kv, persist.Options{
		Limit:  cfg.Storage.SnapshotLimit,
		Expiry: cfg.Sync.PendingExpiry,
	}))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
