package backup

import (
	"fmt"
	"path/filepath"

	"github.com/docker/go-units"

	"github.com/sebetc4/zimnica/internal/disk"
)

// SpaceCheck holds the figures of one destination space estimate.
// Estimates are necessarily approximate (symlinks, sparse files and
// compression are not modeled), which is why an insufficient result is
// a soft-fail the operator may override.
type SpaceCheck struct {
	Required uint64
	Free     uint64
	Total    uint64
	Mirror   bool
}

// CheckSpace sums the sizes of the folders selected for this
// destination (not the whole source tree) and gathers the
// destination's free and total capacity.
func CheckSpace(insp *disk.Inspector, source string, folders []string, dest string, mirror bool) (SpaceCheck, error) {
	var required uint64
	for _, folder := range folders {
		size, err := insp.DirSize(filepath.Join(source, folder))
		if err != nil {
			return SpaceCheck{}, err
		}
		required += size
	}

	free, err := insp.FreeBytes(dest)
	if err != nil {
		return SpaceCheck{}, err
	}
	total, err := insp.TotalBytes(dest)
	if err != nil {
		return SpaceCheck{}, err
	}

	return SpaceCheck{Required: required, Free: free, Total: total, Mirror: mirror}, nil
}

// Sufficient applies the fixed 10% safety margin. A mirroring
// destination is checked against total capacity: after a
// delete-extraneous sync its footprint converges to the source's
// regardless of current contents.
func (s SpaceCheck) Sufficient() bool {
	needed := s.Required + s.Required/10
	if s.Mirror {
		return needed <= s.Total
	}
	return needed <= s.Free
}

// String reports both computed figures in human-readable units.
func (s SpaceCheck) String() string {
	limit := s.Free
	kind := "free"
	if s.Mirror {
		limit = s.Total
		kind = "total"
	}
	return fmt.Sprintf("required %s (plus 10%% margin), %s %s",
		units.BytesSize(float64(s.Required)), kind, units.BytesSize(float64(limit)))
}
