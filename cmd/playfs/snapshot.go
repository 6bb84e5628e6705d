package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"playfs/internal/extension"
	"playfs/internal/hostsync"
	"playfs/internal/state"
	"playfs/internal/vfs"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Convert playgrounds to and from shareable URL hashes",
	}
	cmd.AddCommand(newSnapshotEncodeCmd())
	cmd.AddCommand(newSnapshotDecodeCmd())
	return cmd
}

func newSnapshotEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <state file | directory>",
		Short: "Print the URL hash of a saved state or a host directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := snapshotFiles(args[0])
			if err != nil {
				return err
			}
			hash, err := state.EncodeHash(files)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "#%s\n", hash)
			return nil
		},
	}
}

// snapshotFiles reads the files of a directory through a mirror, or of a
// state file through its manager.
func snapshotFiles(path string) (map[string]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		store := vfs.New(extension.NewRegistry())
		m, err := hostsync.New(path, store, hostsync.Options{})
		if err != nil {
			return nil, err
		}
		if err := m.Seed(); err != nil {
			return nil, err
		}
		return store.Snapshot(), nil
	}
	sm, err := state.NewManager(path)
	if err != nil {
		return nil, err
	}
	snap, err := sm.Load()
	if err != nil {
		return nil, err
	}
	return snap.Files, nil
}

func newSnapshotDecodeCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "decode [hash]",
		Short: "Decode a URL hash into a state file or JSON",
		Long: `Decode a URL hash. The hash is read from stdin when not given. With --out
the files are saved as a state file; otherwise they are printed as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var hash string
			if len(args) == 1 {
				hash = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				hash = strings.TrimSpace(string(data))
			}
			files, err := state.DecodeHash(hash)
			if err != nil {
				return err
			}

			if out == "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(files)
			}
			sm, err := state.NewManager(out)
			if err != nil {
				return err
			}
			if err := sm.Save(&state.Snapshot{Files: files}); err != nil {
				return err
			}
			logger.Info("Saved %d files to %s", len(files), sm.Path())
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "State file to write")
	return cmd
}
