package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sebetc4/zimnica/internal/backup"
	"github.com/sebetc4/zimnica/internal/config"
	"github.com/sebetc4/zimnica/internal/disk"
	"github.com/sebetc4/zimnica/internal/restore"
	"github.com/sebetc4/zimnica/internal/system"
	"github.com/sebetc4/zimnica/internal/ui"
)

// RestoreCommand handles bare-metal restores
type RestoreCommand struct {
	ctx *GlobalContext

	mode  string
	disk  string
	efi   string
	boot  string
	root  string
	drive string
}

// NewRestoreCommand creates the restore command
func NewRestoreCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &RestoreCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a backup onto a disk or selected partitions",
		Long: `Provision an encrypted BTRFS system from a backup drive and copy the
backed-up data onto it.

In full-disk mode one target disk is erased completely and partitioned
from scratch. In partitions mode the operator selects existing EFI,
boot and root partitions; the EFI partition is never written, so a
second operating system's boot entry survives.`,
		Args: cobra.NoArgs,
		RunE: cmd.Run,
	}

	cobraCmd.Flags().StringVarP(&cmd.mode, "mode", "m", "", "Restore mode (full-disk, partitions)")
	cobraCmd.Flags().StringVar(&cmd.disk, "disk", "", "Target disk for full-disk mode (e.g. /dev/nvme0n1)")
	cobraCmd.Flags().StringVar(&cmd.efi, "efi", "", "EFI partition for partitions mode (preserved)")
	cobraCmd.Flags().StringVar(&cmd.boot, "boot", "", "Boot partition for partitions mode (formatted)")
	cobraCmd.Flags().StringVar(&cmd.root, "root", "", "Root partition for partitions mode (formatted)")
	cobraCmd.Flags().StringVarP(&cmd.drive, "drive", "d", "1", "Backup drive to restore from (1, 2)")

	return cobraCmd
}

// Run executes the restore command
func (c *RestoreCommand) Run(cmd *cobra.Command, args []string) error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	deps := []string{"rsync", "btrfs", "sgdisk", "wipefs", "partprobe",
		"mkfs.btrfs", "mkfs.ext4", "mkfs.vfat", "udevadm", "chattr", "lsblk"}
	if err := c.ctx.CheckDependencies(deps...); err != nil {
		return err
	}

	cfg, err := c.ctx.Config()
	if err != nil {
		return err
	}

	lock, err := c.ctx.AcquireLock()
	if err != nil {
		return err
	}
	defer lock.Release()

	source, release, err := c.mountSource(cfg)
	if err != nil {
		return err
	}
	defer release()

	plan, err := c.buildPlan()
	if err != nil {
		return err
	}
	if err := plan.Validate(); err != nil {
		return err
	}

	if !c.confirm(plan) {
		return fmt.Errorf("restore cancelled")
	}

	pass, err := ui.PromptNewPassword("Enter new encryption passphrase")
	if err != nil {
		return err
	}
	defer pass.Zeroize()

	engine := backup.NewEngine(c.ctx.Executor, c.ctx.Logger)
	pipeline := restore.NewPipeline(source, c.ctx.Logger, c.ctx.Executor,
		c.ctx.LUKS, c.ctx.Mounts, c.ctx.Btrfs, c.ctx.Inspector, engine)

	if err := pipeline.Run(plan, pass); err != nil {
		return err
	}

	c.ctx.Logger.Success("Restore finished. Remove the live medium and reboot.")
	return nil
}

// mountSource makes sure the backup drive to restore from is mounted
// and returns its mount point plus a release function. A drive that was
// already mounted is left mounted on release.
func (c *RestoreCommand) mountSource(cfg *config.Config) (string, func(), error) {
	n := 1
	if c.drive == "2" {
		n = 2
	} else if c.drive != "1" {
		return "", nil, fmt.Errorf("invalid --drive value '%s' (use 1 or 2)", c.drive)
	}

	dc, ok := cfg.Drive(n)
	if !ok {
		return "", nil, fmt.Errorf("backup drive %d is not configured", n)
	}

	handle, err := c.ctx.Registry.Acquire(driveSpec(dc))
	if err != nil {
		return "", nil, fmt.Errorf("cannot access the backup to restore from: %w", err)
	}

	release := func() {
		if err := c.ctx.Registry.Release(handle); err != nil {
			c.ctx.Logger.Warning("Failed to release %s: %v", dc.Label, err)
		}
	}
	return dc.Mount, release, nil
}

// buildPlan resolves the restore target from flags, falling back to
// interactive selection for anything missing.
func (c *RestoreCommand) buildPlan() (restore.Plan, error) {
	if c.mode == "" {
		c.mode = ui.PromptStringWithDefault("Restore mode (full-disk, partitions)", "full-disk")
	}

	switch restore.Mode(c.mode) {
	case restore.ModeFullDisk:
		if c.disk == "" {
			c.disk = ui.PromptString("Target disk (e.g. /dev/nvme0n1)")
		}
		if !disk.DeviceExists(c.disk) {
			return restore.Plan{}, fmt.Errorf("disk %s does not exist", c.disk)
		}
		return restore.FullDiskPlan(c.disk), nil

	case restore.ModePartitions:
		if c.efi == "" || c.boot == "" || c.root == "" {
			if err := c.selectPartitions(); err != nil {
				return restore.Plan{}, err
			}
		}
		for _, dev := range []string{c.efi, c.boot, c.root} {
			if !disk.DeviceExists(dev) {
				return restore.Plan{}, fmt.Errorf("partition %s does not exist", dev)
			}
		}
		if err := c.checkEFIFilesystem(); err != nil {
			return restore.Plan{}, err
		}
		return restore.PartitionsPlan(c.efi, c.boot, c.root), nil

	default:
		return restore.Plan{}, fmt.Errorf("invalid --mode value '%s' (use full-disk or partitions)", c.mode)
	}
}

// selectPartitions shows the attached partitions and prompts for the
// three roles.
func (c *RestoreCommand) selectPartitions() error {
	parts, err := disk.ListPartitions(c.ctx.Executor)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return fmt.Errorf("no partitions found")
	}

	table := ui.NewTable("PATH", "SIZE", "FSTYPE", "LABEL", "MOUNTPOINT")
	for _, p := range parts {
		table.AddRow(p.Path, p.Size, p.Fstype, p.Label, p.Mountpoint)
	}
	table.Print()

	if c.efi == "" {
		c.efi = ui.PromptString("EFI partition (will be preserved)")
	}
	if c.boot == "" {
		c.boot = ui.PromptString("Boot partition (will be FORMATTED)")
	}
	if c.root == "" {
		c.root = ui.PromptString("Root partition (will be FORMATTED)")
	}
	return nil
}

// checkEFIFilesystem verifies the selected EFI partition carries a FAT
// filesystem. The check is advisory: blkid can be wrong on exotic
// setups, so the operator may override it.
func (c *RestoreCommand) checkEFIFilesystem() error {
	fstype, err := c.ctx.Inspector.FilesystemType(c.efi)
	if err != nil {
		return err
	}
	if fstype == "vfat" {
		return nil
	}

	c.ctx.Logger.Warning("%s reports filesystem '%s', expected vfat for an EFI system partition", c.efi, fstype)
	if !ui.PromptConfirm(fmt.Sprintf("Use %s as the EFI partition anyway?", c.efi)) {
		return fmt.Errorf("%s is not a FAT32 EFI system partition", c.efi)
	}
	return nil
}

// confirm walks the operator through the two-step confirmation: a plain
// yes/no on the full plan, then typing the exact device about to be
// erased.
func (c *RestoreCommand) confirm(plan restore.Plan) bool {
	fmt.Println()
	fmt.Print(plan.Describe())
	fmt.Println()

	if !ui.PromptConfirm("Proceed with this restore plan?") {
		return false
	}

	target := plan.Disk
	if target == "" {
		target = plan.Device(restore.RoleRoot)
	}
	warning := fmt.Sprintf("ALL DATA on %s will be irreversibly destroyed.",
		strings.TrimSpace(target))
	return ui.PromptConfirmExact(warning, target)
}
