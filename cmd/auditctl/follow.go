package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/isotrack/pkg/audit"
)

func (a *app) newFollowCmd() *cobra.Command {
	var (
		journalDir string
		lines      int
	)

	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Stream entries as the service appends them to its journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if journalDir == "" {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				journalDir = cfg.Journal.Path
			}

			f := &follower{
				path: filepath.Join(journalDir, audit.JournalFileName),
				out:  cmd.OutOrStdout(),
				json: a.flags.output == outputJSON,
				log:  a.log.WithField("component", "follow"),
			}
			return f.run(cmd.Context(), lines)
		},
	}

	cmd.Flags().StringVar(&journalDir, "journal", "", "Journal directory (default from configuration)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "Number of existing entries to print first")
	return cmd
}

// follower tails the journal file, reopening it when the sink rotates it
type follower struct {
	path string
	out  io.Writer
	json bool
	log  *logrus.Entry

	file    *os.File
	reader  *bufio.Reader
	partial []byte
}

func (f *follower) run(ctx context.Context, backlog int) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// The directory is watched so a rotated or recreated journal is seen.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(f.path), err)
	}

	if err := f.printBacklog(backlog); err != nil {
		return err
	}
	if err := f.open(true); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	defer f.closeFile()

	f.log.WithField("path", f.path).Debug("following journal")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != f.path {
				continue
			}
			if err := f.handle(event); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.log.WithError(err).Warn("watcher error")
		}
	}
}

func (f *follower) handle(event fsnotify.Event) error {
	switch {
	case event.Has(fsnotify.Create):
		f.log.Debug("journal created, reopening")
		f.closeFile()
		if err := f.open(false); err != nil {
			return err
		}
		return f.drain()
	case event.Has(fsnotify.Write):
		if f.file == nil {
			if err := f.open(false); err != nil {
				return err
			}
		}
		return f.drain()
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		f.log.Debug("journal rotated away")
		if f.file != nil {
			if err := f.drain(); err != nil {
				return err
			}
		}
		f.closeFile()
	}
	return nil
}

func (f *follower) printBacklog(n int) error {
	if n <= 0 {
		return nil
	}
	entries, err := audit.ReadJournalFile(f.path, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	for _, e := range entries {
		if err := f.print(e); err != nil {
			return err
		}
	}
	return nil
}

func (f *follower) open(atEnd bool) error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	if atEnd {
		if _, err := file.Seek(0, io.SeekEnd); err != nil {
			file.Close()
			return fmt.Errorf("seeking journal: %w", err)
		}
	}
	f.file = file
	f.reader = bufio.NewReader(file)
	f.partial = nil
	return nil
}

func (f *follower) closeFile() {
	if f.file != nil {
		f.file.Close()
		f.file = nil
		f.reader = nil
	}
}

// drain prints every complete line appended since the last read. A trailing
// line without a newline is kept until the writer finishes it.
func (f *follower) drain() error {
	for {
		chunk, err := f.reader.ReadBytes('\n')
		f.partial = append(f.partial, chunk...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading journal: %w", err)
		}

		line := f.partial
		f.partial = nil

		var entry audit.Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			f.log.WithError(err).Warn("skipping malformed journal line")
			continue
		}
		if err := f.print(entry); err != nil {
			return err
		}
	}
}

func (f *follower) print(e audit.Entry) error {
	if f.json {
		return json.NewEncoder(f.out).Encode(e)
	}
	tw := tabwriter.NewWriter(f.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, formatEntryRow(e))
	return tw.Flush()
}
