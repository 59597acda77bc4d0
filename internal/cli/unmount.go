package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sebetc4/zimnica/internal/config"
	"github.com/sebetc4/zimnica/internal/system"
	"github.com/sebetc4/zimnica/internal/volume"
)

// UnmountCommand handles unmounting and locking backup drives
type UnmountCommand struct {
	ctx   *GlobalContext
	drive string
}

// NewUnmountCommand creates the unmount command
func NewUnmountCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &UnmountCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "unmount",
		Short: "Unmount and lock the configured backup drives",
		Long: `Unmount the configured backup drives and close their encryption
mappers, whether or not this process mounted them. A drive that is not
mounted is skipped.`,
		Args: cobra.NoArgs,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVarP(&cmd.drive, "drive", "d", "both", "Which drive to unmount (1, 2, both)")

	return cobraCmd
}

// Run executes the unmount command
func (c *UnmountCommand) Run(cmd *cobra.Command, args []string) error {
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
		if err := c.unmountDrive(dc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// unmountDrive releases one drive regardless of who mounted it: unmount
// if mounted, then close the mapper if one is active.
func (c *UnmountCommand) unmountDrive(dc config.DriveConfig) error {
	mounted, err := c.ctx.Mounts.IsMounted(dc.Mount)
	if err != nil {
		return err
	}

	if mounted {
		c.ctx.Logger.Info("Unmounting %s...", dc.Mount)
		if err := c.ctx.Mounts.Unmount(dc.Mount); err != nil {
			return err
		}
	}

	if _, err := os.Stat(volume.MapperPath(dc.Mapper)); err == nil {
		c.ctx.Logger.Info("Locking %s...", dc.Mapper)
		if err := c.ctx.LUKS.Close(dc.Mapper); err != nil {
			return err
		}
	} else if !mounted {
		c.ctx.Logger.Info("%s is not mounted", dc.Label)
		return nil
	}

	c.ctx.Logger.Success("%s unmounted and locked", dc.Label)
	return nil
}
