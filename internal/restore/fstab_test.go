package restore

import (
	"strings"
	"testing"
)

func testContext() *Context {
	return &Context{
		HasCode:  true,
		LUKSUUID: "11111111-2222-3333-4444-555555555555",
		Mapper:   "luks-11111111-2222-3333-4444-555555555555",
		RootUUID: "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		BootUUID: "99999999-8888-7777-6666-555555555555",
		EFIUUID:  "A1B2-C3D4",
	}
}

func TestFstabDocument(t *testing.T) {
	ctx := testContext()
	doc := FstabDocument(ctx)

	wants := []string{
		"UUID=aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee / btrfs subvol=root,compress=zstd:3,noatime,discard=async 0 0",
		"UUID=aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee /home btrfs subvol=home",
		"UUID=aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee /code btrfs subvol=code",
		"UUID=aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee /vm btrfs subvol=vm,noatime,discard=async 0 0",
		"UUID=99999999-8888-7777-6666-555555555555 /boot ext4 defaults 0 2",
		"UUID=A1B2-C3D4 /boot/efi vfat umask=0077 0 1",
	}
	for _, want := range wants {
		if !strings.Contains(doc, want) {
			t.Errorf("fstab should contain %q:\n%s", want, doc)
		}
	}

	// The no-CoW subvolume never gets compression.
	for _, line := range strings.Split(doc, "\n") {
		if strings.Contains(line, "subvol=vm") && strings.Contains(line, "compress") {
			t.Errorf("vm line must not enable compression: %s", line)
		}
	}
}

func TestFstabDocumentWithoutCode(t *testing.T) {
	ctx := testContext()
	ctx.HasCode = false
	if strings.Contains(FstabDocument(ctx), "/code") {
		t.Error("fstab should not reference /code when the backup has none")
	}
}

func TestCrypttabDocument(t *testing.T) {
	doc := CrypttabDocument(testContext())
	want := "luks-11111111-2222-3333-4444-555555555555 UUID=11111111-2222-3333-4444-555555555555 none luks,discard\n"
	if doc != want {
		t.Errorf("crypttab = %q, want %q", doc, want)
	}
}

func TestMissingVolumeReport(t *testing.T) {
	oldFstab := `# old system
UUID=aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee / btrfs subvol=root 0 0
UUID=dddddddd-1111-2222-3333-444444444444 /data ext4 defaults 0 2
UUID=eeeeeeee-1111-2222-3333-444444444444 /media/extern xfs defaults 0 2
/dev/sr0 /mnt/cdrom iso9660 noauto 0 0
`
	created := map[string]bool{"aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee": true}
	attached := func(uuid string) bool {
		return uuid == "dddddddd-1111-2222-3333-444444444444"
	}

	report := MissingVolumeReport(oldFstab, created, attached)
	if report == "" {
		t.Fatal("expected a report for the unattached volume")
	}
	if !strings.Contains(report, "eeeeeeee-1111-2222-3333-444444444444") {
		t.Errorf("report should name the missing volume:\n%s", report)
	}
	if !strings.Contains(report, "/media/extern") {
		t.Errorf("report should name the old mount point:\n%s", report)
	}
	if strings.Contains(report, "dddddddd") {
		t.Errorf("attached volumes do not belong in the report:\n%s", report)
	}
	if strings.Contains(report, "aaaaaaaa") {
		t.Errorf("recreated volumes do not belong in the report:\n%s", report)
	}
}

func TestMissingVolumeReportEmpty(t *testing.T) {
	oldFstab := "UUID=aaaa / btrfs defaults 0 0\n"
	report := MissingVolumeReport(oldFstab, map[string]bool{"aaaa": true}, func(string) bool { return false })
	if report != "" {
		t.Errorf("expected empty report, got:\n%s", report)
	}
}

func TestContextSubvolumes(t *testing.T) {
	ctx := &Context{HasCode: true}
	got := strings.Join(ctx.subvolumes(), ",")
	if got != "root,home,code,vm" {
		t.Errorf("subvolumes = %s, want root,home,code,vm", got)
	}

	ctx.HasCode = false
	got = strings.Join(ctx.subvolumes(), ",")
	if got != "root,home,vm" {
		t.Errorf("subvolumes = %s, want root,home,vm", got)
	}
}
