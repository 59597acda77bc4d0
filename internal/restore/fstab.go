package restore

import (
	"fmt"
	"strings"
)

// Filesystem-table and encryption-table documents for the restored
// system. They reference the freshly generated UUIDs harvested by the
// pipeline — never the original system's, since formatting regenerated
// everything.

const subvolCompression = "zstd:3"

// FstabDocument renders the restored system's /etc/fstab.
func FstabDocument(ctx *Context) string {
	var b strings.Builder
	b.WriteString("# /etc/fstab: generated during restore\n")
	b.WriteString("# <file system> <mount point> <type> <options> <dump> <pass>\n")

	btrfsOpts := fmt.Sprintf("subvol=%%s,compress=%s,noatime,discard=async", subvolCompression)

	fmt.Fprintf(&b, "UUID=%s / btrfs %s 0 0\n", ctx.RootUUID, fmt.Sprintf(btrfsOpts, "root"))
	fmt.Fprintf(&b, "UUID=%s /home btrfs %s 0 0\n", ctx.RootUUID, fmt.Sprintf(btrfsOpts, "home"))
	if ctx.HasCode {
		fmt.Fprintf(&b, "UUID=%s /code btrfs %s 0 0\n", ctx.RootUUID, fmt.Sprintf(btrfsOpts, "code"))
	}
	// The vm subvolume holds large mutable images: no-CoW, and
	// therefore no compression either.
	fmt.Fprintf(&b, "UUID=%s /vm btrfs subvol=vm,noatime,discard=async 0 0\n", ctx.RootUUID)
	fmt.Fprintf(&b, "UUID=%s /boot ext4 defaults 0 2\n", ctx.BootUUID)
	fmt.Fprintf(&b, "UUID=%s /boot/efi vfat umask=0077 0 1\n", ctx.EFIUUID)
	return b.String()
}

// CrypttabDocument renders the restored system's /etc/crypttab.
func CrypttabDocument(ctx *Context) string {
	return fmt.Sprintf("%s UUID=%s none luks,discard\n", ctx.Mapper, ctx.LUKSUUID)
}

// MissingVolumeReport inspects the backed-up system's old fstab and
// lists every volume it referenced that the restore neither recreated
// nor found attached, so the operator can reattach them later without
// guessing identities. Returns "" when nothing is missing.
func MissingVolumeReport(oldFstab string, created map[string]bool, attached func(uuid string) bool) string {
	var missing []string
	for _, line := range strings.Split(oldFstab, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		uuid, ok := strings.CutPrefix(fields[0], "UUID=")
		if !ok {
			continue
		}
		if created[uuid] || attached(uuid) {
			continue
		}
		missing = append(missing, fmt.Sprintf("UUID=%s (was mounted at %s, type %s)", uuid, fields[1], fields[2]))
	}

	if len(missing) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Volumes referenced by the backed-up system but not reconnected during restore.\n")
	b.WriteString("Reattach them and add matching fstab entries, or drop them deliberately:\n\n")
	for _, m := range missing {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	return b.String()
}
