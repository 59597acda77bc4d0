package cli

import (
	"testing"

	"github.com/sebetc4/zimnica/internal/config"
)

const singleDriveDoc = `
source:
  path: /

backup_drive_1:
  device: /dev/disk/by-id/usb-drive-a
  mapper: backup-a
  mount: /mnt/backup-a
`

const dualDriveDoc = singleDriveDoc + `
backup_drive_2:
  device: /dev/disk/by-id/usb-drive-b
  mapper: backup-b
  mount: /mnt/backup-b
`

func mustParse(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return cfg
}

func TestResolveDrives(t *testing.T) {
	single := mustParse(t, singleDriveDoc)
	dual := mustParse(t, dualDriveDoc)

	tests := []struct {
		name string
		cfg  *config.Config
		flag string
		want []int
		err  bool
	}{
		{"explicit first", dual, "1", []int{1}, false},
		{"explicit second", dual, "2", []int{2}, false},
		{"both configured", dual, "both", []int{1, 2}, false},
		{"both with single drive", single, "both", []int{1}, false},
		{"default empty", single, "", []int{1}, false},
		{"second not configured", single, "2", nil, true},
		{"garbage", dual, "3", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveDrives(tt.cfg, tt.flag)
			if tt.err {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveDrives failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("drives = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("drives = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestDriveSpec(t *testing.T) {
	cfg := mustParse(t, dualDriveDoc)
	dc, ok := cfg.Drive(2)
	if !ok {
		t.Fatal("drive 2 should be configured")
	}

	spec := driveSpec(dc)
	if spec.Device != "/dev/disk/by-id/usb-drive-b" {
		t.Errorf("Device = %s", spec.Device)
	}
	if spec.Mapper != "backup-b" || spec.Mount != "/mnt/backup-b" {
		t.Errorf("spec = %+v", spec)
	}
	if spec.Label != "backup_drive_2" {
		t.Errorf("Label should fall back to the section name, got %s", spec.Label)
	}
}
