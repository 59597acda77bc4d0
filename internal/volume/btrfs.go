package volume

import (
	"fmt"
	"strings"

	"github.com/sebetc4/zimnica/internal/system"
)

// BtrfsManager drives the copy-on-write filesystem primitives:
// subvolumes, read-only snapshots, scrub, and the no-CoW attribute.
type BtrfsManager struct {
	run system.Runner
}

// NewBtrfsManager creates a new btrfs manager
func NewBtrfsManager(run system.Runner) *BtrfsManager {
	return &BtrfsManager{run: run}
}

// SubvolumeCreate creates a subvolume at path.
func (m *BtrfsManager) SubvolumeCreate(path string) error {
	if err := m.run.Run("btrfs", "subvolume", "create", path); err != nil {
		return fmt.Errorf("failed to create subvolume %s: %w", path, err)
	}
	return nil
}

// SubvolumeDelete deletes a subvolume at path.
func (m *BtrfsManager) SubvolumeDelete(path string) error {
	if err := m.run.Run("btrfs", "subvolume", "delete", path); err != nil {
		return fmt.Errorf("failed to delete subvolume %s: %w", path, err)
	}
	return nil
}

// SubvolumeList returns the subvolume paths below a mount point.
func (m *BtrfsManager) SubvolumeList(mountPoint string) ([]string, error) {
	out, err := m.run.RunOutput("btrfs", "subvolume", "list", "-o", mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to list subvolumes of %s: %w", mountPoint, err)
	}

	// Each line: "ID 256 gen 10 top level 5 path root"
	var subvols []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[len(fields)-2] == "path" {
			subvols = append(subvols, fields[len(fields)-1])
		}
	}
	return subvols, nil
}

// SnapshotRO creates a read-only snapshot of src at dst.
func (m *BtrfsManager) SnapshotRO(src, dst string) error {
	if err := m.run.Run("btrfs", "subvolume", "snapshot", "-r", src, dst); err != nil {
		return fmt.Errorf("failed to snapshot %s: %w", src, err)
	}
	return nil
}

// Scrub runs a blocking scrub over the filesystem at mountPoint,
// verifying checksums of all data and metadata.
func (m *BtrfsManager) Scrub(mountPoint string) error {
	if err := m.run.RunStream("btrfs", "scrub", "start", "-B", mountPoint); err != nil {
		return fmt.Errorf("scrub of %s failed: %w", mountPoint, err)
	}
	return nil
}

// SetNoCow applies the no-copy-on-write attribute to a directory.
// Only effective while the directory is still empty, so the restore
// pipeline calls it right after subvolume creation.
func (m *BtrfsManager) SetNoCow(path string) error {
	if err := m.run.Run("chattr", "+C", path); err != nil {
		return fmt.Errorf("failed to set no-CoW on %s: %w", path, err)
	}
	return nil
}

// CompressionStats returns human-readable compression statistics for a
// mount point via compsize, or an error when the tool is unavailable.
func (m *BtrfsManager) CompressionStats(mountPoint string) (string, error) {
	out, err := m.run.RunOutput("compsize", mountPoint)
	if err != nil {
		return "", fmt.Errorf("failed to gather compression statistics: %w", err)
	}
	return out, nil
}
