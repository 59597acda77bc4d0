// Package disk provides read-only queries over block devices and
// filesystems: mount state, space figures, filesystem types, and the
// partition-name arithmetic used by the restore pipeline. Nothing in
// this package writes to a device.
package disk

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/sebetc4/zimnica/internal/system"
)

// procMounts is a variable so tests can point it at a fixture.
var procMounts = "/proc/mounts"

// Inspector answers read-only filesystem questions. Both the backup
// orchestrator and the restore pipeline use it to gate destructive
// operations.
type Inspector struct {
	run system.Runner
}

// NewInspector creates a new inspector
func NewInspector(run system.Runner) *Inspector {
	return &Inspector{run: run}
}

// FilesystemType returns the filesystem type of a device (e.g. "btrfs",
// "vfat", "crypto_LUKS"), or "" when the device carries no signature.
func (i *Inspector) FilesystemType(device string) (string, error) {
	out, err := i.run.RunOutput("blkid", "-o", "value", "-s", "TYPE", device)
	if err != nil {
		// blkid exits non-zero for devices without a signature
		return "", nil
	}
	return strings.TrimSpace(out), nil
}

// FilesystemUUID returns the filesystem UUID of a device.
func (i *Inspector) FilesystemUUID(device string) (string, error) {
	out, err := i.run.RunOutput("blkid", "-o", "value", "-s", "UUID", device)
	if err != nil {
		return "", fmt.Errorf("failed to read UUID of %s: %w", device, err)
	}
	uuid := strings.TrimSpace(out)
	if uuid == "" {
		return "", fmt.Errorf("no filesystem UUID on %s", device)
	}
	return uuid, nil
}

// DeviceByUUID reports whether any attached device carries the given
// filesystem UUID.
func (i *Inspector) DeviceByUUID(uuid string) bool {
	out, err := i.run.RunOutput("blkid", "-U", uuid)
	return err == nil && strings.TrimSpace(out) != ""
}

// IsMounted reports whether path is an active mount point.
func (i *Inspector) IsMounted(path string) (bool, error) {
	return Mounted(path)
}

// MountOptionsOf returns the mount options of an active mount point.
func MountOptionsOf(path string) (string, error) {
	entry, err := findMount(path)
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", fmt.Errorf("%s is not mounted", path)
	}
	return entry.options, nil
}

// Mounted reports whether path appears as a mount point in /proc/mounts.
func Mounted(path string) (bool, error) {
	entry, err := findMount(path)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

type mountEntry struct {
	device  string
	point   string
	fstype  string
	options string
}

func findMount(path string) (*mountEntry, error) {
	data, err := os.ReadFile(procMounts)
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}

	clean := filepath.Clean(path)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 4 && unescapeMountPath(fields[1]) == clean {
			return &mountEntry{
				device:  fields[0],
				point:   clean,
				fstype:  fields[2],
				options: fields[3],
			}, nil
		}
	}
	return nil, nil
}

// unescapeMountPath decodes the octal escapes /proc/mounts uses for
// spaces and tabs in mount point paths.
func unescapeMountPath(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			code := (s[i+1]-'0')*64 + (s[i+2]-'0')*8 + (s[i+3] - '0')
			b.WriteByte(code)
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// TotalBytes returns the capacity of the filesystem containing path.
func (i *Inspector) TotalBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem at %s: %w", path, err)
	}
	return stat.Blocks * uint64(stat.Bsize), nil
}

// FreeBytes returns the space available to unprivileged writes.
func (i *Inspector) FreeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem at %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// UsedBytes returns the occupied space of the filesystem containing path.
func (i *Inspector) UsedBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem at %s: %w", path, err)
	}
	return (stat.Blocks - stat.Bfree) * uint64(stat.Bsize), nil
}

// DirSize sums the apparent size of every regular file under path.
// Symlinks are not followed; sparse files and compression are not
// modeled, which is why space checks built on this are soft-fail.
func (i *Inspector) DirSize(path string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal: the figure is
			// an estimate either way.
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += uint64(info.Size())
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk %s: %w", path, err)
	}
	return total, nil
}
