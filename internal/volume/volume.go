// Package volume manages the lifecycle of encrypted volumes: LUKS
// unlock/lock, filesystem mount/unmount, BTRFS subvolume operations,
// and a process-wide registry of open handles so interruption can
// close exactly what this process opened.
package volume

import (
	"errors"
)

// ErrDriveNotPresent signals that a backing device node is absent.
// Non-fatal by design: a caller backing up "drive 1 or 2" skips the
// missing drive instead of aborting.
var ErrDriveNotPresent = errors.New("drive not present")

// Spec identifies one encrypted volume to acquire.
type Spec struct {
	Device      string // backing LUKS device node
	Mapper      string // device-mapper name, unique per open volume
	Mount       string // final mount point
	Label       string // human label for prompts and logs
	Compression string // btrfs compression parameter (e.g. zstd:3)
}

// Handle represents one opened encrypted volume. It exists in the open
// state only between a successful unlock+mount and the matching
// unmount+lock.
type Handle struct {
	Device      string
	Mapper      string
	Mount       string
	Label       string
	Compression string

	// owned is false when Acquire found the volume already mounted:
	// the registry never closes volumes it did not open.
	owned bool
	// unlocked is true when this process performed the LUKS unlock,
	// as opposed to finding the mapper node already present.
	unlocked bool
	released bool
}

// Owned reports whether this process opened the volume (and is
// therefore responsible for closing it).
func (h *Handle) Owned() bool {
	return h.owned
}

// MapperPath returns the decrypted block device node for a mapper name.
func MapperPath(mapper string) string {
	return "/dev/mapper/" + mapper
}
