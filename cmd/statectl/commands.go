package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"eventbot/internal/codec"
	"eventbot/internal/config"
	"eventbot/internal/state"
	"eventbot/internal/storage"
)

type options struct {
	configFile string
	driver     string
	dbPath     string
	stateFile  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "statectl",
		Short:         "Inspect and edit persisted chat states",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (defaults to $CONFIG_FILE)")
	root.PersistentFlags().StringVar(&opts.driver, "driver", "", "storage driver override: sqlite or file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path override")
	root.PersistentFlags().StringVar(&opts.stateFile, "state-file", "", "JSON state file path override")

	root.AddCommand(
		&cobra.Command{
			Use:   "dump",
			Short: "Print every stored state, one per line",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(opts, func(store *state.Store) error {
					return store.ForEach(cmd.Context(), func(ns string, chatID int64, record map[string]any) error {
						text, err := codec.Default().EncodeRecord(record)
						if err != nil {
							return err
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", ns, chatID, text)
						return nil
					})
				})
			},
		},
		&cobra.Command{
			Use:   "get <namespace> <chat-id>",
			Short: "Print one state; missing states print as {}",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				chatID, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid chat id %q: %w", args[1], err)
				}
				return withStore(opts, func(store *state.Store) error {
					record, err := store.Get(cmd.Context(), args[0], chatID)
					if err != nil {
						return err
					}
					text, err := codec.Default().EncodeRecord(record)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), text)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set <namespace> <chat-id> <json-object>",
			Short: "Merge fields into a state, creating it if needed",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				chatID, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid chat id %q: %w", args[1], err)
				}
				fields, err := codec.Default().DecodeRecord(args[2])
				if err != nil {
					return err
				}
				return withStore(opts, func(store *state.Store) error {
					return store.Set(cmd.Context(), args[0], chatID, fields)
				})
			},
		},
		&cobra.Command{
			Use:   "restore [file]",
			Short: "Merge states printed by dump back into storage (stdin without a file)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				in := cmd.InOrStdin()
				if len(args) == 1 {
					f, err := os.Open(args[0])
					if err != nil {
						return err
					}
					defer f.Close()
					in = f
				}
				snapshot, err := readDump(in)
				if err != nil {
					return err
				}
				return withStore(opts, func(store *state.Store) error {
					return store.UpdateAll(cmd.Context(), snapshot)
				})
			},
		},
	)
	return root
}

// readDump parses "namespace<TAB>chat<TAB>record" lines as written by dump.
func readDump(r io.Reader) (state.Snapshot, error) {
	snapshot := state.Snapshot{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		parts := strings.SplitN(text, "\t", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("line %d: want namespace, chat id and record", line)
		}
		chatID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid chat id %q: %w", line, parts[1], err)
		}
		record, err := codec.Default().DecodeRecord(parts[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if snapshot[parts[0]] == nil {
			snapshot[parts[0]] = map[int64]map[string]any{}
		}
		snapshot[parts[0]][chatID] = record
	}
	return snapshot, sc.Err()
}

func withStore(opts *options, fn func(*state.Store) error) (err error) {
	backend, err := openBackend(opts)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, backend.Close()) }()
	return fn(state.NewStore(backend, nil))
}

func openBackend(opts *options) (storage.Backend, error) {
	path := opts.configFile
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.driver != "" {
		cfg.StorageDriver = config.StorageDriver(opts.driver)
	}
	if opts.dbPath != "" {
		cfg.DatabasePath = opts.dbPath
	}
	if opts.stateFile != "" {
		cfg.StateFilePath = opts.stateFile
	}
	switch cfg.StorageDriver {
	case config.DriverFile:
		return storage.NewFile(cfg.StateFilePath)
	case config.DriverSQLite:
		return storage.OpenSQLite(cfg.DatabasePath)
	}
	return nil, fmt.Errorf("unknown storage driver: %s", cfg.StorageDriver)
}
