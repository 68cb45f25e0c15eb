package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/isotrack/pkg/audit"
	"github.com/platinummonkey/isotrack/pkg/config"
	"github.com/platinummonkey/isotrack/pkg/kvstore"
	"github.com/platinummonkey/isotrack/pkg/observability"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

type globalFlags struct {
	configPath  string
	storageType string
	fileRoot    string
	storageKey  string
	output      string
	logLevel    string
}

// app carries what every subcommand needs
type app struct {
	flags globalFlags
	log   *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{log: logrus.New()}

	rootCmd := &cobra.Command{
		Use:           "auditctl",
		Short:         "Inspect and maintain the isotrack audit trail",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setupLogger(cmd.ErrOrStderr())
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", os.Getenv(config.EnvConfigFile), "YAML configuration file")
	pf.StringVar(&a.flags.storageType, "storage", "", "Storage backend override (memory, file, redis, sqlite, postgres, s3)")
	pf.StringVar(&a.flags.fileRoot, "file-root", "", "Root directory for the file backend")
	pf.StringVar(&a.flags.storageKey, "key", "", "Storage key holding the audit log")
	pf.StringVarP(&a.flags.output, "output", "o", outputTable, "Output format (table, json)")
	pf.StringVar(&a.flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		a.newRecentCmd(),
		a.newEntityCmd(),
		a.newExportCmd(),
		a.newPruneCmd(),
		a.newStatusCmd(),
		a.newFollowCmd(),
	)

	return rootCmd
}

func (a *app) setupLogger(w io.Writer) error {
	a.log.SetOutput(w)
	a.log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(a.flags.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", a.flags.logLevel, err)
	}
	a.log.SetLevel(level)

	switch a.flags.output {
	case outputTable, outputJSON:
		return nil
	default:
		return fmt.Errorf("invalid output format %q (must be table or json)", a.flags.output)
	}
}

// loadConfig applies the command-line overrides on top of config.Load
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return nil, err
	}
	if a.flags.storageType != "" {
		cfg.Storage.Type = a.flags.storageType
	}
	if a.flags.fileRoot != "" {
		cfg.Storage.FileRoot = a.flags.fileRoot
	}
	if a.flags.storageKey != "" {
		cfg.Audit.StorageKey = a.flags.storageKey
	}
	return cfg, cfg.Validate()
}

// openTrail loads the persisted log. The returned func closes the trail and
// the store.
func (a *app) openTrail(ctx context.Context) (*audit.Trail, *config.Config, func(), error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := kvstore.Open(ctx, cfg.Storage.ToKVStore())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Type, err)
	}

	// Library diagnostics share the CLI's output but only at error level.
	libLogger := observability.NewLoggerWithFormat(observability.ErrorLevel, observability.FormatText, a.log.Out)

	trail, err := audit.Open(ctx, store, append(cfg.Audit.Options(), audit.WithLogger(libLogger))...)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}

	a.log.WithFields(logrus.Fields{
		"backend": cfg.Storage.Type,
		"key":     cfg.Audit.StorageKey,
		"entries": trail.Len(),
	}).Debug("audit trail loaded")

	closeFn := func() {
		if err := trail.Close(); err != nil {
			a.log.WithError(err).Warn("closing audit trail")
		}
		if err := store.Close(); err != nil {
			a.log.WithError(err).Warn("closing storage")
		}
	}
	return trail, cfg, closeFn, nil
}

// printEntries writes entries as a table or as one JSON document
func (a *app) printEntries(w io.Writer, entries []audit.Entry) error {
	if a.flags.output == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tACTION\tENTITY\tNAME\tUSER\tCHANGES")
	for _, e := range entries {
		fmt.Fprintln(tw, formatEntryRow(e))
	}
	return tw.Flush()
}

func formatEntryRow(e audit.Entry) string {
	fields := make([]string, 0, len(e.Changes))
	for _, c := range e.Changes {
		fields = append(fields, c.Field)
	}
	changes := "-"
	if len(fields) > 0 {
		changes = strings.Join(fields, ",")
	}

	return strings.Join([]string{
		e.Timestamp.Format(time.RFC3339),
		string(e.Action),
		string(e.EntityType) + "/" + e.EntityID,
		e.EntityName,
		e.UserID + " (" + e.UserRole + ")",
		changes,
	}, "\t")
}
