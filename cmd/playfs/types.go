package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"playfs/internal/typeacq"
)

func newTypesCmd() *cobra.Command {
	var out string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "types <specifier>...",
		Short: "Download TypeScript declarations of packages",
		Long: `Download the declarations of each package and of every package they
import. Files are listed, or written under --out as node_modules/<pkg>/...`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := &typeacq.Downloader{CDN: cfg.CDN, MaxConcurrency: cfg.Types.Concurrency}
			files := make(map[string]string)
			for _, spec := range args {
				got, err := download(cmd.Context(), d, spec, timeout)
				if err != nil {
					return err
				}
				for k, v := range got {
					files[k] = v
				}
			}

			paths := make([]string, 0, len(files))
			for p := range files {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			for _, p := range paths {
				if out != "" {
					host := filepath.Join(out, filepath.FromSlash(p))
					if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
						return err
					}
					if err := os.WriteFile(host, []byte(files[p]), 0o644); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%8d  %s\n", len(files[p]), p)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Directory to write the declarations to")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Timeout per package")
	return cmd
}

func download(ctx context.Context, d *typeacq.Downloader, spec string, timeout time.Duration) (map[string]string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return d.Download(ctx, spec)
}
