package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"carecircle/internal/util"
	"carecircle/pkg/domain"
	"carecircle/pkg/store"
	"carecircle/services/circle/internal/config"
	"carecircle/services/circle/internal/deps"
)

type cliState struct {
	configPath string
	jsonOut    bool
	deps       *deps.Deps
}

func newRootCmd() *cobra.Command {
	st := &cliState{}
	root := &cobra.Command{
		Use:   "circlectl",
		Short: "Maintain the CareCircle document store",
		Long: `circlectl seeds, migrates and inspects the CareCircle Root document
using the same config.yaml as the circle server.

  circlectl seed              Write the demo circle unless already seeded
  circlectl migrate           Run pending migrations
  circlectl mailbox --limit 5 Show the newest mails
  circlectl reset             Archive the document and reseed it`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(st.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			util.InitLogger(cfg.LogLevel, "circlectl")
			d, err := deps.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			st.deps = d
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if st.deps == nil {
				return nil
			}
			return st.deps.Close()
		},
	}
	root.PersistentFlags().StringVar(&st.configPath, "config", config.ConfigPath, "Path to config.yaml")
	root.PersistentFlags().BoolVar(&st.jsonOut, "json", false, "Output as JSON")

	root.AddCommand(
		newSeedCmd(st),
		newMigrateCmd(st),
		newMailboxCmd(st),
		newResetCmd(st),
		newSnapshotsCmd(st),
	)
	return root
}

func newSeedCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write the demo fixture when the document is not seeded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seeded, err := st.deps.Store.SeedIfEmpty(cmd.Context())
			if err != nil {
				return err
			}
			if seeded {
				fmt.Fprintln(cmd.OutOrStdout(), "seeded", st.deps.Store.Key())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "already seeded", st.deps.Store.Key())
			return nil
		},
	}
}

func newMigrateCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ran, err := st.deps.Store.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if st.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"ran": ran})
			}
			for _, name := range ran {
				fmt.Fprintln(cmd.OutOrStdout(), "ran", name)
			}
			return nil
		},
	}
}

func newMailboxCmd(st *cliState) *cobra.Command {
	var (
		limit      int
		fromOutbox bool
	)
	cmd := &cobra.Command{
		Use:   "mailbox",
		Short: "List the newest mails",
		Long: `List the newest mails in the Root mailbox, or with --outbox the mails
mirrored to the Redis stream (which also holds simulated send-email calls).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var mails []domain.Mail
			if fromOutbox {
				if st.deps.Outbox == nil {
					return fmt.Errorf("outbox not configured (set outboxStream)")
				}
				recent, err := st.deps.Outbox.Recent(cmd.Context(), int64(limit))
				if err != nil {
					return err
				}
				mails = recent
			} else {
				box := st.deps.Store.GetRoot(cmd.Context()).Mailbox
				for i := len(box) - 1; i >= 0 && len(mails) < limit; i-- {
					mails = append(mails, box[i])
				}
			}
			if st.jsonOut {
				return writeJSON(cmd.OutOrStdout(), mails)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tKIND\tTO\tSUBJECT")
			for _, m := range mails {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					m.CreatedAt.Format(time.RFC3339), m.Meta["kind"], m.To, m.Subject)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of mails")
	cmd.Flags().BoolVar(&fromOutbox, "outbox", false, "Read from the Redis outbox stream")
	return cmd
}

func newResetCmd(st *cliState) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Archive the document and replace it with the demo fixture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("reset replaces all data; pass --yes to confirm")
			}
			key, err := st.deps.Store.Reset(cmd.Context())
			if err != nil {
				return err
			}
			if key == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "reset (no snapshot archived)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reset, snapshot", key)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}

func newSnapshotsCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots [version]",
		Short: "List archived Root snapshots",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if st.deps.Archive == nil {
				return fmt.Errorf("archive not configured (set archiveEndpoint)")
			}
			version := store.CurrentVersion
			if len(args) == 1 {
				version = strings.TrimSpace(args[0])
			}
			keys, err := st.deps.Archive.List(cmd.Context(), version)
			if err != nil {
				return err
			}
			if st.jsonOut {
				return writeJSON(cmd.OutOrStdout(), keys)
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
