package volume

import (
	"fmt"
	"os"
	"sync"

	"github.com/sebetc4/zimnica/internal/disk"
	"github.com/sebetc4/zimnica/internal/system"
	"github.com/sebetc4/zimnica/internal/ui"
)

// PassphrasePrompt supplies the passphrase for unlocking a volume,
// labeled for the operator. Injected so tests run without a terminal.
type PassphrasePrompt func(label string) (*system.SecureBytes, error)

// Registry tracks every volume this process opened, so a single
// top-level interruption handler can close exactly those volumes and
// nothing else. Scoped to one invocation; torn down at exit.
type Registry struct {
	mu       sync.Mutex
	promptMu sync.Mutex
	unlocker Unlocker
	mounter  Mounter
	log      *ui.Logger
	prompt   PassphrasePrompt
	handles  []*Handle
}

// NewRegistry creates a new registry
func NewRegistry(unlocker Unlocker, mounter Mounter, log *ui.Logger, prompt PassphrasePrompt) *Registry {
	return &Registry{
		unlocker: unlocker,
		mounter:  mounter,
		log:      log,
		prompt:   prompt,
	}
}

// Acquire transitions a volume from locked to mounted: unlock the
// device into a mapper node, create the mount point, mount with the
// configured compression, and register the handle. A missing device
// node returns ErrDriveNotPresent. An already-mounted volume is an
// idempotent success and is never registered.
func (r *Registry) Acquire(spec Spec) (*Handle, error) {
	if !disk.DeviceExists(spec.Device) {
		return nil, fmt.Errorf("%s: %w", spec.Device, ErrDriveNotPresent)
	}

	mounted, err := r.mounter.IsMounted(spec.Mount)
	if err != nil {
		return nil, err
	}
	if mounted {
		r.log.Debug("%s already mounted at %s", spec.Label, spec.Mount)
		if spec.Compression != "" {
			if opts, err := r.mounter.MountOptions(spec.Mount); err == nil {
				if actual := CompressionFromOptions(opts); actual != spec.Compression {
					r.log.Warning("%s is mounted with compression '%s' but '%s' is configured; leaving the mount untouched",
						spec.Label, actual, spec.Compression)
				}
			}
		}
		return r.newHandle(spec, false, false), nil
	}

	// A present mapper node means someone else unlocked the volume;
	// use it, but never lock it back on release.
	unlocked := false
	if _, err := os.Stat(MapperPath(spec.Mapper)); err != nil {
		pass, err := r.promptPassphrase(spec.Label)
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase for %s: %w", spec.Label, err)
		}
		defer pass.Zeroize()

		r.log.Info("Unlocking %s (%s)...", spec.Label, spec.Device)
		if err := r.unlocker.Open(spec.Device, spec.Mapper, pass); err != nil {
			return nil, err
		}
		unlocked = true
	}

	r.log.Info("Mounting %s at %s...", spec.Label, spec.Mount)
	if err := r.mounter.Mount(MapperPath(spec.Mapper), spec.Mount, MountOptionsFor(spec.Compression)); err != nil {
		if unlocked {
			// No leaked decrypted mapper on a failed mount.
			if cerr := r.unlocker.Close(spec.Mapper); cerr != nil {
				r.log.Warning("Failed to re-lock %s after mount failure: %v", spec.Mapper, cerr)
			}
		}
		return nil, err
	}

	handle := r.newHandle(spec, true, unlocked)
	r.mu.Lock()
	r.handles = append(r.handles, handle)
	r.mu.Unlock()
	return handle, nil
}

// promptPassphrase serializes passphrase entry: concurrent Acquire
// calls (the parallel two-drive backup) must never interleave two
// prompts on the same terminal.
func (r *Registry) promptPassphrase(label string) (*system.SecureBytes, error) {
	r.promptMu.Lock()
	defer r.promptMu.Unlock()
	return r.prompt(label)
}

func (r *Registry) newHandle(spec Spec, owned, unlocked bool) *Handle {
	return &Handle{
		Device:      spec.Device,
		Mapper:      spec.Mapper,
		Mount:       spec.Mount,
		Label:       spec.Label,
		Compression: spec.Compression,
		owned:       owned,
		unlocked:    unlocked,
	}
}

// Release is the exact inverse of Acquire: unmount, then lock. Safe to
// call twice, and a no-op for handles of volumes this process did not
// open.
func (r *Registry) Release(h *Handle) error {
	if h == nil || h.released {
		return nil
	}
	if !h.owned {
		h.released = true
		return nil
	}

	if err := r.mounter.Unmount(h.Mount); err != nil {
		return err
	}
	if h.unlocked {
		if err := r.unlocker.Close(h.Mapper); err != nil {
			return err
		}
	}

	h.released = true
	r.forget(h)
	r.log.Debug("Released %s", h.Label)
	return nil
}

// Disown removes a handle from the registry without releasing it, for
// mounts meant to outlive the process. The registry tracks volumes to
// close on interruption or exit; a deliberately persistent mount must
// not be among them. The handle is inert afterwards: Release and
// ReleaseAll ignore it.
func (r *Registry) Disown(h *Handle) {
	if h == nil || h.released {
		return
	}
	h.released = true
	r.forget(h)
	r.log.Debug("Disowned %s; it stays mounted", h.Label)
}

func (r *Registry) forget(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.handles {
		if other == h {
			r.handles = append(r.handles[:i], r.handles[i+1:]...)
			return
		}
	}
}

// ReleaseAll closes every registered handle in reverse acquisition
// order. Best-effort: individual failures are logged and skipped so
// cleanup never gets stuck. Invoked from the top-level interruption
// handler and at normal exit.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	pending := make([]*Handle, len(r.handles))
	copy(pending, r.handles)
	r.handles = nil
	r.mu.Unlock()

	for i := len(pending) - 1; i >= 0; i-- {
		h := pending[i]
		if h.released {
			continue
		}
		if err := r.mounter.Unmount(h.Mount); err != nil {
			r.log.Warning("Failed to unmount %s: %v", h.Mount, err)
		}
		if h.unlocked {
			if err := r.unlocker.Close(h.Mapper); err != nil {
				r.log.Warning("Failed to lock %s: %v", h.Mapper, err)
			}
		}
		h.released = true
	}
}

// Open returns a snapshot of the currently registered handles.
func (r *Registry) Open() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, len(r.handles))
	copy(out, r.handles)
	return out
}
