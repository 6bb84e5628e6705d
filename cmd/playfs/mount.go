package main

import (
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"playfs/internal/blob"
	"playfs/internal/mount"
)

func newMountCmd() *cobra.Command {
	var mirror, snapshot string
	cmd := &cobra.Command{
		Use:   "mount [mountpoint]",
		Short: "Mount the playground as a FUSE filesystem",
		Long: `Mount the playground. Files are edited in place and the transformed
output of every file is readable under _OUT.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.Mount = args[0]
			}
			overrideString(cmd, "mirror", &cfg.Mirror, mirror)
			overrideString(cmd, "snapshot", &cfg.Snapshot, snapshot)
			if cfg.Mount == "" {
				return errors.New("mount point is required")
			}
			return runMount()
		},
	}
	cmd.Flags().StringVar(&mirror, "mirror", "", "Host directory to mirror into the playground")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "State file to restore from and save to")
	return cmd
}

func runMount() error {
	mountPoint := filepath.Clean(cfg.Mount)
	logger.Debug("Mount point: %s", mountPoint)

	a, err := newApp(cfg, blob.DefaultPrefix)
	if err != nil {
		return err
	}
	defer a.close()

	logger.Debug("Setting up signal handlers...")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Mounting filesystem...")
	fuseFS := mount.New(a.pg)
	if err := fuseFS.Mount(mountPoint); err != nil {
		return err
	}
	logger.Info("Filesystem mounted and ready")

	sig := <-sigChan
	logger.Info("Received signal %v", sig)
	if err := fuseFS.Unmount(mountPoint); err != nil {
		logger.Error("Unmount error: %v", err)
	}
	logger.Info("Clean shutdown complete")
	return nil
}
