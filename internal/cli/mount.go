package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sebetc4/zimnica/internal/system"
	"github.com/sebetc4/zimnica/internal/volume"
)

// MountCommand handles unlocking and mounting backup drives
type MountCommand struct {
	ctx   *GlobalContext
	drive string
}

// NewMountCommand creates the mount command
func NewMountCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &MountCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "mount",
		Short: "Unlock and mount the configured backup drives",
		Long: `Unlock the configured backup drives and mount them at their
configured mount points. The drives stay mounted after the command
exits; use unmount to release them.`,
		Args: cobra.NoArgs,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVarP(&cmd.drive, "drive", "d", "both", "Which drive to mount (1, 2, both)")

	return cobraCmd
}

// Run executes the mount command
func (c *MountCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	cfg, err := c.ctx.Config()
	if err != nil {
		return err
	}
	drives, err := resolveDrives(cfg, c.drive)
	if err != nil {
		return err
	}

	var errs []error
	for _, n := range drives {
		dc, ok := cfg.Drive(n)
		if !ok {
			errs = append(errs, fmt.Errorf("backup drive %d is not configured", n))
			continue
		}

		handle, err := c.ctx.Registry.Acquire(driveSpec(dc))
		if err != nil {
			if errors.Is(err, volume.ErrDriveNotPresent) {
				c.ctx.Logger.Warning("%s is not connected, skipping", dc.Label)
				continue
			}
			errs = append(errs, err)
			continue
		}
		// This mount is meant to persist past process exit; take it out
		// of the registry so the exit-time ReleaseAll leaves it alone.
		c.ctx.Registry.Disown(handle)
		c.ctx.Logger.Success("%s mounted at %s", dc.Label, dc.Mount)
	}
	return errors.Join(errs...)
}
