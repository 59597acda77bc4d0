package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sebetc4/zimnica/internal/ui"
	"github.com/sebetc4/zimnica/internal/volume"
)

const snapshotTimeFormat = "20060102-150405"

// Rotator maintains the read-only snapshot history on a backup
// destination: one timestamped snapshot per run, pruned to a
// configured count.
type Rotator struct {
	btrfs *volume.BtrfsManager
	log   *ui.Logger
}

// NewRotator creates a new snapshot rotator
func NewRotator(btrfs *volume.BtrfsManager, log *ui.Logger) *Rotator {
	return &Rotator{btrfs: btrfs, log: log}
}

// Snapshot creates a read-only snapshot of subvol under dir, named
// <prefix>-<timestamp>, then prunes snapshots with the same prefix
// beyond keep (0 keeps everything).
func (r *Rotator) Snapshot(subvol, dir, prefix string, keep int) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s", prefix, time.Now().Format(snapshotTimeFormat))
	dst := filepath.Join(dir, name)

	r.log.Info("Creating read-only snapshot %s", dst)
	if err := r.btrfs.SnapshotRO(subvol, dst); err != nil {
		return err
	}

	if keep > 0 {
		return r.prune(dir, prefix, keep)
	}
	return nil
}

// prune deletes the oldest snapshots beyond keep. Timestamped names
// sort chronologically, so lexical order is age order.
func (r *Rotator) prune(dir, prefix string, keep int) error {
	old, err := PruneCandidates(dir, prefix, keep)
	if err != nil {
		return err
	}

	for _, name := range old {
		path := filepath.Join(dir, name)
		r.log.Info("Pruning old snapshot %s", path)
		if err := r.btrfs.SubvolumeDelete(path); err != nil {
			return err
		}
	}
	return nil
}

// PruneCandidates returns the snapshot names under dir, matching
// prefix, that fall outside the keep window, oldest first.
func PruneCandidates(dir, prefix string, keep int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix+"-") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if len(names) <= keep {
		return nil, nil
	}
	return names[:len(names)-keep], nil
}
