package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/isotrack/pkg/audit"
)

func (a *app) newRecentCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trail, _, closeFn, err := a.openTrail(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			return a.printEntries(cmd.OutOrStdout(), trail.RecentEntries(limit))
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", audit.DefaultRecentLimit, "Maximum number of entries")
	return cmd
}

func (a *app) newEntityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entity <type> <id>",
		Short: "Show the history of one entity, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType := audit.EntityType(args[0])
			if !entityType.Valid() {
				return fmt.Errorf("unknown entity type %q (valid: %v)", args[0], audit.EntityTypes())
			}

			trail, _, closeFn, err := a.openTrail(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			return a.printEntries(cmd.OutOrStdout(), trail.EntriesForEntity(entityType, args[1]))
		},
	}
}

func (a *app) newExportCmd() *cobra.Command {
	var (
		format string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the persisted audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trail, _, closeFn, err := a.openTrail(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			data, err := trail.Export(audit.ExportFormat(format))
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
			a.log.WithFields(logrus.Fields{
				"path":    out,
				"format":  format,
				"entries": trail.Len(),
			}).Info("audit log exported")
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(audit.ExportFormatJSON), "Export format (json, csv, ndjson)")
	cmd.Flags().StringVar(&out, "out", "", "Output file (default stdout)")
	return cmd
}

func (a *app) newPruneCmd() *cobra.Command {
	var (
		days     int
		archive  string
		compress bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove entries older than a number of days",
		Long: "Remove entries older than --days and persist the result. With --archive the\n" +
			"removed entries are first written to an NDJSON file in that directory.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trail, cfg, closeFn, err := a.openTrail(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			if !cmd.Flags().Changed("days") {
				days = cfg.Retention.Days
			}

			var removed int64
			if archive != "" {
				removed, err = trail.Cleanup(cmd.Context(), audit.RetentionPolicy{
					RetentionDays:   days,
					ArchiveEnabled:  true,
					ArchivePath:     archive,
					CompressArchive: compress,
				})
				if err != nil {
					return err
				}
			} else {
				removed = int64(trail.ClearOldLogs(cmd.Context(), days))
			}

			a.log.WithFields(logrus.Fields{"days": days, "removed": removed}).Debug("prune finished")
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries, %d remaining\n", removed, trail.Len())
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", audit.DefaultRetentionDays, "Keep entries newer than this many days (default from configuration)")
	cmd.Flags().StringVar(&archive, "archive", "", "Directory receiving the removed entries")
	cmd.Flags().BoolVar(&compress, "gzip", true, "Gzip the archive file")
	return cmd
}

func (a *app) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted audit log status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trail, cfg, closeFn, err := a.openTrail(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			status := trail.Status()
			w := cmd.OutOrStdout()

			if a.flags.output == outputJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Backend:\t%s\n", cfg.Storage.Type)
			fmt.Fprintf(tw, "Storage key:\t%s\n", status.StorageKey)
			fmt.Fprintf(tw, "State:\t%s\n", status.State)
			fmt.Fprintf(tw, "Entries:\t%d\n", status.InMemory)
			fmt.Fprintf(tw, "Max logs:\t%d\n", status.MaxLogs)
			if entries := trail.RecentEntries(1); len(entries) > 0 {
				fmt.Fprintf(tw, "Newest entry:\t%s\n", entries[0].Timestamp.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}
