package backup

import (
	"strings"
	"testing"
)

const gib = 1024 * 1024 * 1024

func TestSufficientAgainstFreeSpace(t *testing.T) {
	// 6 GiB required vs 5 GiB free: insufficient.
	check := SpaceCheck{Required: 6 * gib, Free: 5 * gib, Total: 100 * gib}
	if check.Sufficient() {
		t.Error("6 GiB into 5 GiB free should be insufficient")
	}

	// The 10% margin applies: 5 GiB required into 5.4 GiB free fails.
	check = SpaceCheck{Required: 5 * gib, Free: 5*gib + 4*gib/10, Total: 100 * gib}
	if check.Sufficient() {
		t.Error("margin should push 5 GiB over 5.4 GiB free")
	}

	check = SpaceCheck{Required: 5 * gib, Free: 6 * gib, Total: 100 * gib}
	if !check.Sufficient() {
		t.Error("5 GiB into 6 GiB free should fit")
	}
}

func TestMirrorChecksTotalCapacity(t *testing.T) {
	// Mirror mode: the post-sync footprint converges to the source's,
	// so current free space is irrelevant.
	check := SpaceCheck{Required: 6 * gib, Free: 1 * gib, Total: 10 * gib, Mirror: true}
	if !check.Sufficient() {
		t.Error("mirror destination with enough total capacity should pass")
	}

	check = SpaceCheck{Required: 10 * gib, Free: 1 * gib, Total: 10 * gib, Mirror: true}
	if check.Sufficient() {
		t.Error("mirror destination smaller than source plus margin should fail")
	}
}

func TestSpaceCheckString(t *testing.T) {
	check := SpaceCheck{Required: 6 * gib, Free: 5 * gib, Total: 100 * gib}
	s := check.String()
	if !strings.Contains(s, "6GiB") || !strings.Contains(s, "5GiB") {
		t.Errorf("report should carry both figures in human units: %s", s)
	}
	if !strings.Contains(s, "free") {
		t.Errorf("non-mirror report should mention free space: %s", s)
	}

	check.Mirror = true
	if !strings.Contains(check.String(), "total") {
		t.Errorf("mirror report should mention total capacity: %s", check.String())
	}
}
