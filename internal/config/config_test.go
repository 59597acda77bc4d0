package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validDoc = `source:
  path: /
backup_drive_1:
  device: /dev/disk/by-id/usb-backup-1
  mapper: backup1
  mount: /mnt/backup1
  compression: zstd:3
  auto_mount: true
  folders:
    - root
    - home
backup_drive_2:
  device: /dev/disk/by-id/usb-backup-2
  mapper: backup2
  mount: /mnt/backup2
  mirror: true
snapshots:
  enabled: true
  dir: /mnt/backup1/.snapshots
  keep: 5
rsync:
  delete: false
  exclude:
    - "*.tmp"
logging:
  dir: /var/log/zimnica
  keep: 10
safety:
  lock_file: /run/zimnica.lock
`

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "zimnica.yaml")
	if err := os.WriteFile(configPath, []byte(validDoc), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := cfg.Str("source.path"); got != "/" {
		t.Errorf("source.path = %q, want /", got)
	}
	if !cfg.Bool("snapshots.enabled") {
		t.Error("snapshots.enabled should be true")
	}
	if got := cfg.Int("snapshots.keep"); got != 5 {
		t.Errorf("snapshots.keep = %d, want 5", got)
	}
	if got := cfg.List("rsync.exclude"); len(got) != 1 || got[0] != "*.tmp" {
		t.Errorf("rsync.exclude = %v, want [*.tmp]", got)
	}

	d1, ok := cfg.Drive(1)
	if !ok {
		t.Fatal("drive 1 should be present")
	}
	if d1.Mapper != "backup1" || !d1.AutoMount || d1.Mirror {
		t.Errorf("unexpected drive 1 view: %+v", d1)
	}
	if len(d1.Folders) != 2 {
		t.Errorf("drive 1 folders = %v, want [root home]", d1.Folders)
	}

	d2, ok := cfg.Drive(2)
	if !ok {
		t.Fatal("drive 2 should be present")
	}
	if !d2.Mirror {
		t.Error("drive 2 mirror should be true")
	}
}

func TestMissingKeysReportedTogether(t *testing.T) {
	_, err := Parse([]byte("snapshots:\n  keep: 3\n  dir: /snap\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}

	want := []string{
		"source.path is required",
		"backup_drive_1.device is required",
		"backup_drive_1.mapper is required",
		"backup_drive_1.mount is required",
	}
	for _, w := range want {
		found := false
		for _, p := range verr.Problems {
			if p == w {
				found = true
			}
		}
		if !found {
			t.Errorf("missing problem %q in %v", w, verr.Problems)
		}
	}
}

func TestBooleanLiteralsOnly(t *testing.T) {
	for _, bad := range []string{"yes", "1", "True", "on", "no", "0"} {
		doc := strings.Replace(validDoc, "auto_mount: true", "auto_mount: "+bad, 1)
		_, err := Parse([]byte(doc))
		if err == nil {
			t.Errorf("auto_mount: %s should be rejected", bad)
			continue
		}
		want := "backup_drive_1.auto_mount must be 'true' or 'false' (got: '" + bad + "')"
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error for %q = %v, want to contain %q", bad, err, want)
		}
	}
}

func TestIntegerRejectsNonDigits(t *testing.T) {
	for _, bad := range []string{"-1", "3.5", "five", "0x10"} {
		doc := strings.Replace(validDoc, "keep: 5", "keep: "+bad, 1)
		_, err := Parse([]byte(doc))
		if err == nil {
			t.Errorf("snapshots.keep: %s should be rejected", bad)
			continue
		}
		if !strings.Contains(err.Error(), "snapshots.keep must be a non-negative integer") {
			t.Errorf("unexpected error for %q: %v", bad, err)
		}
	}
}

func TestPathMustBeAbsolute(t *testing.T) {
	doc := strings.Replace(validDoc, "mount: /mnt/backup1", "mount: mnt/backup1", 1)
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("relative mount path should be rejected")
	}
	if !strings.Contains(err.Error(), "backup_drive_1.mount must be an absolute path (got: 'mnt/backup1')") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSourceEqualsDestinationRejected(t *testing.T) {
	doc := strings.Replace(validDoc, "mount: /mnt/backup1", "mount: /", 1)
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("source == destination should be rejected")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Problems) != 1 {
		t.Fatalf("expected exactly one problem, got %v", verr.Problems)
	}
	if verr.Problems[0] != "source.path and backup_drive_1.mount paths cannot be the same" {
		t.Errorf("unexpected problem: %s", verr.Problems[0])
	}
}

func TestDestinationsMustDiffer(t *testing.T) {
	doc := strings.Replace(validDoc, "mount: /mnt/backup2", "mount: /mnt/backup1", 1)
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("identical destinations should be rejected")
	}
	if !strings.Contains(err.Error(), "backup_drive_1.mount and backup_drive_2.mount paths cannot be the same") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSnapshotRetentionNeedsDir(t *testing.T) {
	doc := strings.Replace(validDoc, "  dir: /mnt/backup1/.snapshots\n", "", 1)
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("snapshot retention without dir should be rejected")
	}
	if !strings.Contains(err.Error(), "snapshots.dir is required when snapshot retention is enabled") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSecondDriveSectionOptional(t *testing.T) {
	doc := `source:
  path: /
backup_drive_1:
  device: /dev/sdb1
  mapper: backup1
  mount: /mnt/backup1
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, ok := cfg.Drive(2); ok {
		t.Error("drive 2 should be absent")
	}
}

func TestSecondDrivePartialSectionRejected(t *testing.T) {
	doc := `source:
  path: /
backup_drive_1:
  device: /dev/sdb1
  mapper: backup1
  mount: /mnt/backup1
backup_drive_2:
  mapper: backup2
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("partial drive 2 section should be rejected")
	}
	for _, want := range []string{"backup_drive_2.device is required", "backup_drive_2.mount is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %v should contain %q", err, want)
		}
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	doc := strings.Replace(validDoc, "delete: false", "delete: false\n  dleete: true", 1)
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("unknown key should be rejected")
	}
	if !strings.Contains(err.Error(), "unknown key: rsync.dleete") {
		t.Errorf("unexpected error: %v", err)
	}
}
