package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sebetc4/zimnica/internal/config"
	"github.com/sebetc4/zimnica/internal/disk"
	"github.com/sebetc4/zimnica/internal/ui"
	"github.com/sebetc4/zimnica/internal/volume"
)

// defaultFolders are the source top-level directories replicated when
// a drive does not configure an explicit selection.
var defaultFolders = []string{"root", "home", "code"}

// Options are the per-run flags of the backup command.
type Options struct {
	Drives           []int
	DryRun           bool
	AssumeYes        bool
	ForceSnapshot    bool
	NoSnapshot       bool
	Check            bool
	CompressionStats bool
}

// Orchestrator drives one backup run: per-drive folder selection,
// space gating, copy-engine invocation, and snapshot rotation.
type Orchestrator struct {
	cfg    *config.Config
	log    *ui.Logger
	insp   *disk.Inspector
	reg    *volume.Registry
	engine *Engine
	rot    *Rotator
	btrfs  *volume.BtrfsManager
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(cfg *config.Config, log *ui.Logger, insp *disk.Inspector,
	reg *volume.Registry, engine *Engine, btrfs *volume.BtrfsManager) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		log:    log,
		insp:   insp,
		reg:    reg,
		engine: engine,
		rot:    NewRotator(btrfs, log),
		btrfs:  btrfs,
	}
}

// Run backs up the requested drives. Two drives have no ordering
// dependency on each other and run as parallel units of work; their
// only shared state is the open-handle registry.
func (o *Orchestrator) Run(opts Options) error {
	defer o.reg.ReleaseAll()

	if len(opts.Drives) < 2 {
		var errs []error
		for _, n := range opts.Drives {
			errs = append(errs, o.runDrive(n, opts))
		}
		return errors.Join(errs...)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(opts.Drives))
	for i, n := range opts.Drives {
		wg.Add(1)
		go func(i, n int) {
			defer wg.Done()
			errs[i] = o.runDrive(n, opts)
		}(i, n)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (o *Orchestrator) runDrive(n int, opts Options) error {
	dc, ok := o.cfg.Drive(n)
	if !ok {
		return fmt.Errorf("backup drive %d is not configured", n)
	}

	if dc.AutoMount {
		handle, err := o.reg.Acquire(volume.Spec{
			Device:      dc.Device,
			Mapper:      dc.Mapper,
			Mount:       dc.Mount,
			Label:       dc.Label,
			Compression: dc.Compression,
		})
		if errors.Is(err, volume.ErrDriveNotPresent) {
			o.log.Warning("%s is not connected, skipping", dc.Label)
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			if rerr := o.reg.Release(handle); rerr != nil {
				o.log.Warning("Failed to release %s: %v", dc.Label, rerr)
			}
		}()
	} else {
		mounted, err := o.insp.IsMounted(dc.Mount)
		if err != nil {
			return err
		}
		if !mounted {
			return fmt.Errorf("destination %s is not mounted (enable auto_mount or mount it first)", dc.Mount)
		}
	}

	source := o.cfg.Str("source.path")
	folders, err := selectFolders(source, dc)
	if err != nil {
		return err
	}
	o.log.Info("Backing up %s: %s", dc.Label, strings.Join(folders, ", "))

	if err := o.gateOnSpace(source, folders, dc, opts); err != nil {
		return err
	}

	copyOpts := CopyOptions{
		Delete:   dc.Mirror || o.cfg.Bool("rsync.delete"),
		DryRun:   opts.DryRun,
		Progress: o.cfg.Bool("rsync.progress"),
		Excludes: o.cfg.List("rsync.exclude"),
		Xattrs:   true,
	}
	for _, folder := range folders {
		if err := o.engine.Sync(filepath.Join(source, folder), filepath.Join(dc.Mount, folder), copyOpts); err != nil {
			return err
		}
	}

	if opts.DryRun {
		o.log.Info("Dry run: skipping snapshot and integrity steps for %s", dc.Label)
		return nil
	}

	if err := o.rotateSnapshots(dc, opts); err != nil {
		return err
	}

	if opts.Check {
		o.log.Info("Running integrity scrub on %s...", dc.Mount)
		if err := o.btrfs.Scrub(dc.Mount); err != nil {
			return err
		}
	}

	if opts.CompressionStats {
		stats, err := o.btrfs.CompressionStats(dc.Mount)
		if err != nil {
			o.log.Warning("Compression statistics unavailable for %s: %v", dc.Mount, err)
		} else {
			o.log.Info("Compression statistics for %s:\n%s", dc.Mount, stats)
		}
	}

	o.log.Success("Backup of %s finished", dc.Label)
	return nil
}

// selectFolders resolves the folder list for one drive: the configured
// selection when present (every entry must exist), otherwise whichever
// of the default top-level directories the source carries.
func selectFolders(source string, dc config.DriveConfig) ([]string, error) {
	if len(dc.Folders) > 0 {
		for _, folder := range dc.Folders {
			if _, err := os.Stat(filepath.Join(source, folder)); err != nil {
				return nil, fmt.Errorf("configured folder %s does not exist under %s", folder, source)
			}
		}
		return dc.Folders, nil
	}

	var folders []string
	for _, folder := range defaultFolders {
		if info, err := os.Stat(filepath.Join(source, folder)); err == nil && info.IsDir() {
			folders = append(folders, folder)
		}
	}
	if len(folders) == 0 {
		return nil, fmt.Errorf("no backup folders found under %s", source)
	}
	return folders, nil
}

// gateOnSpace runs the pre-copy space estimate. Insufficient space is
// a soft-fail: the operator confirms an override instead of being
// hard-blocked, because the estimate does not model sparse files,
// symlinks, or compression.
func (o *Orchestrator) gateOnSpace(source string, folders []string, dc config.DriveConfig, opts Options) error {
	if o.cfg.Has("safety.space_check") && !o.cfg.Bool("safety.space_check") {
		return nil
	}

	check, err := CheckSpace(o.insp, source, folders, dc.Mount, dc.Mirror)
	if err != nil {
		return err
	}
	if check.Sufficient() {
		o.log.Debug("Space check for %s passed: %s", dc.Label, check)
		return nil
	}

	o.log.Warning("Insufficient space on %s: %s", dc.Label, check)
	if opts.AssumeYes {
		o.log.Warning("Proceeding anyway (--yes)")
		return nil
	}
	if !ui.PromptConfirm(fmt.Sprintf("Continue backing up to %s despite the space estimate?", dc.Label)) {
		return fmt.Errorf("insufficient space on %s: %s", dc.Mount, check)
	}
	return nil
}

func (o *Orchestrator) rotateSnapshots(dc config.DriveConfig, opts Options) error {
	enabled := o.cfg.Bool("snapshots.enabled") || opts.ForceSnapshot
	if !enabled || opts.NoSnapshot {
		return nil
	}

	dir := o.cfg.Str("snapshots.dir")
	if !strings.HasPrefix(dir, dc.Mount+"/") {
		// The configured directory lives on another drive; keep each
		// drive's history on the drive itself.
		dir = filepath.Join(dc.Mount, ".snapshots")
	}
	return o.rot.Snapshot(dc.Mount, dir, "backup", o.cfg.Int("snapshots.keep"))
}
