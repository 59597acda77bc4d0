package cli

import (
	"fmt"
	"sync"

	"github.com/sebetc4/zimnica/internal/config"
	"github.com/sebetc4/zimnica/internal/disk"
	"github.com/sebetc4/zimnica/internal/system"
	"github.com/sebetc4/zimnica/internal/ui"
	"github.com/sebetc4/zimnica/internal/volume"
)

// DefaultConfigPath is where the configuration document is looked up
// unless --config overrides it.
const DefaultConfigPath = "/etc/zimnica/config.yaml"

const defaultLockFile = "/run/zimnica.lock"

// GlobalContext holds shared resources for all commands
type GlobalContext struct {
	ConfigPath string

	Executor  *system.Executor
	Logger    *ui.Logger
	LUKS      *volume.LUKSManager
	Mounts    *volume.MountManager
	Btrfs     *volume.BtrfsManager
	Inspector *disk.Inspector
	Registry  *volume.Registry

	cfg      *config.Config
	lock     *system.RunLock
	shutdown sync.Once
}

// PassphrasePrompt asks the operator for a volume's passphrase on the
// terminal.
func PassphrasePrompt(label string) (*system.SecureBytes, error) {
	return ui.PromptPassword(fmt.Sprintf("Enter passphrase for %s", label))
}

// NewGlobalContext creates a new global context
func NewGlobalContext(verbose, quiet, noColor, debug bool) *GlobalContext {
	executor := system.NewExecutor(debug)
	logger := ui.NewLogger(verbose, quiet, noColor)

	luks := volume.NewLUKSManager(executor)
	mounts := volume.NewMountManager(executor)

	return &GlobalContext{
		ConfigPath: DefaultConfigPath,
		Executor:   executor,
		Logger:     logger,
		LUKS:       luks,
		Mounts:     mounts,
		Btrfs:      volume.NewBtrfsManager(executor),
		Inspector:  disk.NewInspector(executor),
		Registry:   volume.NewRegistry(luks, mounts, logger, PassphrasePrompt),
	}
}

// Config loads and validates the configuration document on first use.
// Opening the run log is tied to config loading because the log
// directory comes from the document itself.
func (ctx *GlobalContext) Config() (*config.Config, error) {
	if ctx.cfg != nil {
		return ctx.cfg, nil
	}

	cfg, err := config.Load(ctx.ConfigPath)
	if err != nil {
		return nil, err
	}
	ctx.cfg = cfg

	if dir := cfg.Str("logging.dir"); dir != "" {
		if err := ctx.Logger.OpenLogFile(dir, cfg.Int("logging.keep")); err != nil {
			ctx.Logger.Warning("Run log unavailable: %v", err)
		}
	}
	return cfg, nil
}

// AcquireLock takes the single-invocation lock. Released on Shutdown,
// or explicitly by the caller.
func (ctx *GlobalContext) AcquireLock() (*system.RunLock, error) {
	path := defaultLockFile
	if ctx.cfg != nil && ctx.cfg.Str("safety.lock_file") != "" {
		path = ctx.cfg.Str("safety.lock_file")
	}

	lock, err := system.AcquireRunLock(path)
	if err != nil {
		return nil, err
	}
	ctx.lock = lock
	return lock, nil
}

// Shutdown releases everything this invocation holds: open volumes,
// the run lock, and the run log. Safe to call more than once; invoked
// from the signal handler and at the end of destructive commands.
func (ctx *GlobalContext) Shutdown() {
	ctx.shutdown.Do(func() {
		ctx.Registry.ReleaseAll()
		if ctx.lock != nil {
			if err := ctx.lock.Release(); err != nil {
				ctx.Logger.Warning("Failed to release run lock: %v", err)
			}
		}
		ctx.Logger.CloseLogFile()
	})
}

// CheckDependencies checks for required system commands
func (ctx *GlobalContext) CheckDependencies(extra ...string) error {
	deps := []string{
		"cryptsetup",
		"mount",
		"umount",
		"blkid",
	}
	return ctx.Executor.CheckDependencies(append(deps, extra...))
}

// driveSpec converts a configured drive into a volume specification.
func driveSpec(dc config.DriveConfig) volume.Spec {
	return volume.Spec{
		Device:      dc.Device,
		Mapper:      dc.Mapper,
		Mount:       dc.Mount,
		Label:       dc.Label,
		Compression: dc.Compression,
	}
}

// resolveDrives expands the --drive flag value into drive indices.
// "both" silently narrows to the first drive when no second one is
// configured, so a single-drive setup does not need the flag.
func resolveDrives(cfg *config.Config, flag string) ([]int, error) {
	switch flag {
	case "1":
		return []int{1}, nil
	case "2":
		if _, ok := cfg.Drive(2); !ok {
			return nil, fmt.Errorf("backup_drive_2 is not configured")
		}
		return []int{2}, nil
	case "", "both":
		drives := []int{1}
		if _, ok := cfg.Drive(2); ok {
			drives = append(drives, 2)
		}
		return drives, nil
	default:
		return nil, fmt.Errorf("invalid --drive value '%s' (use 1, 2 or both)", flag)
	}
}
