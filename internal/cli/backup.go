package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sebetc4/zimnica/internal/backup"
	"github.com/sebetc4/zimnica/internal/system"
)

// BackupCommand handles backup runs
type BackupCommand struct {
	ctx *GlobalContext

	drive      string
	dryRun     bool
	yes        bool
	snapshot   bool
	noSnapshot bool
	check      bool
	compsize   bool
}

// NewBackupCommand creates the backup command
func NewBackupCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &BackupCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "backup",
		Short: "Replicate the source onto the configured backup drives",
		Long: `Replicate the configured source folders onto one or both backup
drives. Drives with auto_mount enabled are unlocked and mounted for the
run and released afterwards; a disconnected drive is skipped with a
warning rather than failing the run.`,
		Args: cobra.NoArgs,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVarP(&cmd.drive, "drive", "d", "both", "Which drive to back up to (1, 2, both)")
	cobraCmd.Flags().BoolVarP(&cmd.dryRun, "dry-run", "n", false, "Show what would be copied without writing")
	cobraCmd.Flags().BoolVarP(&cmd.yes, "yes", "y", false, "Assume yes on confirmations (space overrides)")
	cobraCmd.Flags().BoolVar(&cmd.snapshot, "snapshot", false, "Take a retention snapshot even if disabled in config")
	cobraCmd.Flags().BoolVar(&cmd.noSnapshot, "no-snapshot", false, "Skip the retention snapshot for this run")
	cobraCmd.Flags().BoolVar(&cmd.check, "check", false, "Run a BTRFS scrub after copying")
	cobraCmd.Flags().BoolVar(&cmd.compsize, "compsize", false, "Report compression statistics after copying")

	return cobraCmd
}

// Run executes the backup command
func (c *BackupCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if c.snapshot && c.noSnapshot {
		return fmt.Errorf("--snapshot and --no-snapshot are mutually exclusive")
	}
	if err := c.ctx.CheckDependencies("rsync", "btrfs"); err != nil {
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

	lock, err := c.ctx.AcquireLock()
	if err != nil {
		return err
	}
	defer lock.Release()

	engine := backup.NewEngine(c.ctx.Executor, c.ctx.Logger)
	orch := backup.NewOrchestrator(cfg, c.ctx.Logger, c.ctx.Inspector,
		c.ctx.Registry, engine, c.ctx.Btrfs)

	return orch.Run(backup.Options{
		Drives:           drives,
		DryRun:           c.dryRun,
		AssumeYes:        c.yes,
		ForceSnapshot:    c.snapshot,
		NoSnapshot:       c.noSnapshot,
		Check:            c.check,
		CompressionStats: c.compsize,
	})
}
