// Package backup orchestrates incremental backups onto encrypted BTRFS
// volumes: folder selection, space checks, the copy-engine invocation,
// and read-only snapshot rotation on the destination.
package backup

import (
	"fmt"

	"github.com/sebetc4/zimnica/internal/system"
	"github.com/sebetc4/zimnica/internal/ui"
)

// rsync exit codes that reflect expected transient source-side churn,
// not backup correctness violations.
const (
	exitPartialTransfer = 23 // some files could not be transferred (permissions)
	exitFilesVanished   = 24 // source files vanished during the transfer
)

// CopyOptions selects the copy-engine behavior for one invocation.
type CopyOptions struct {
	Delete   bool     // remove destination files absent from the source
	DryRun   bool     // report what would change without writing
	Progress bool     // per-file progress on stdout
	Excludes []string // exclude patterns
	Xattrs   bool     // preserve extended attributes and ACLs
}

// Engine wraps the external copy tool with the option contract this
// system relies on: archive semantics, xattr/ACL preservation, delete
// toggle, excludes, progress, dry-run.
type Engine struct {
	run system.Runner
	log *ui.Logger
}

// NewEngine creates a new copy engine
func NewEngine(run system.Runner, log *ui.Logger) *Engine {
	return &Engine{run: run, log: log}
}

func buildArgs(src, dst string, opts CopyOptions) []string {
	args := []string{"-a", "--numeric-ids"}
	if opts.Xattrs {
		args = append(args, "-H", "-A", "-X")
	}
	if opts.Delete {
		args = append(args, "--delete")
	}
	if opts.DryRun {
		args = append(args, "--dry-run", "-v")
	}
	if opts.Progress {
		args = append(args, "--info=progress2")
	}
	for _, pattern := range opts.Excludes {
		args = append(args, "--exclude", pattern)
	}
	// Trailing slash: copy the contents of src into dst
	args = append(args, src+"/", dst+"/")
	return args
}

// Sync copies src into dst. The two well-known partial-failure exit
// codes (vanished files, partial transfer) are logged as warnings and
// treated as success; anything else is fatal.
func (e *Engine) Sync(src, dst string, opts CopyOptions) error {
	e.log.Info("Syncing %s -> %s", src, dst)

	err := e.run.RunStream("rsync", buildArgs(src, dst, opts)...)
	if err == nil {
		return nil
	}

	switch system.ExitCode(err) {
	case exitFilesVanished:
		e.log.Warning("Some source files vanished during transfer of %s; backup continues", src)
		return nil
	case exitPartialTransfer:
		e.log.Warning("Partial transfer from %s (permission issues on some files); backup continues", src)
		return nil
	}
	return fmt.Errorf("copy of %s failed: %w", src, err)
}
