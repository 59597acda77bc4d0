package volume

import (
	"fmt"
	"os"
	"strings"

	"github.com/sebetc4/zimnica/internal/disk"
	"github.com/sebetc4/zimnica/internal/system"
)

// Mounter is the filesystem mount contract the registry depends on.
type Mounter interface {
	Mount(device, mountPoint string, opts []string) error
	Unmount(mountPoint string) error
	IsMounted(path string) (bool, error)
	MountOptions(path string) (string, error)
}

// MountManager handles filesystem mount operations
type MountManager struct {
	run system.Runner
}

// NewMountManager creates a new mount manager
func NewMountManager(run system.Runner) *MountManager {
	return &MountManager{run: run}
}

// Mount mounts a device with the given options, creating the mount
// point if needed.
func (m *MountManager) Mount(device, mountPoint string, opts []string) error {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}

	args := []string{}
	if len(opts) > 0 {
		args = append(args, "-o", strings.Join(opts, ","))
	}
	args = append(args, device, mountPoint)

	if err := m.run.Run("mount", args...); err != nil {
		return fmt.Errorf("failed to mount %s to %s: %w", device, mountPoint, err)
	}
	return nil
}

// BindMount bind-mounts src at dst (for /dev, /proc, /sys, /run in the
// restore chroot).
func (m *MountManager) BindMount(src, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("failed to create bind target: %w", err)
	}
	if err := m.run.Run("mount", "--bind", src, dst); err != nil {
		return fmt.Errorf("failed to bind-mount %s to %s: %w", src, dst, err)
	}
	return nil
}

// Unmount unmounts a mount point, falling back to a lazy unmount when
// the plain one fails.
func (m *MountManager) Unmount(mountPoint string) error {
	if err := m.run.Run("umount", mountPoint); err == nil {
		return nil
	}
	if err := m.run.Run("umount", "-l", mountPoint); err != nil {
		return fmt.Errorf("failed to unmount %s: %w", mountPoint, err)
	}
	return nil
}

// IsMounted reports whether path is an active mount point.
func (m *MountManager) IsMounted(path string) (bool, error) {
	return disk.Mounted(path)
}

// MountOptions returns the options of an active mount point.
func (m *MountManager) MountOptions(path string) (string, error) {
	return disk.MountOptionsOf(path)
}

// Mkfs creates a filesystem on a device. Destroys existing content.
func (m *MountManager) Mkfs(device, fsType, label string) error {
	switch fsType {
	case "btrfs":
		return m.run.Run("mkfs.btrfs", "-f", "-L", label, device)
	case "vfat":
		return m.run.Run("mkfs.vfat", "-F", "32", "-n", label, device)
	case "ext4":
		return m.run.Run("mkfs.ext4", "-q", "-F", "-L", label, device)
	default:
		return fmt.Errorf("unsupported filesystem: %s", fsType)
	}
}

// MountOptionsFor builds the mount option list for an encrypted backup
// volume. The compression parameter is configured per drive.
func MountOptionsFor(compression string) []string {
	opts := []string{"noatime"}
	if compression != "" {
		opts = append(opts, "compress="+compression)
	}
	return opts
}

// CompressionFromOptions extracts the compression parameter from a
// mount option string, or "" when compression is off.
func CompressionFromOptions(options string) string {
	for _, opt := range strings.Split(options, ",") {
		if v, ok := strings.CutPrefix(opt, "compress="); ok {
			return v
		}
		if v, ok := strings.CutPrefix(opt, "compress-force="); ok {
			return v
		}
	}
	return ""
}
