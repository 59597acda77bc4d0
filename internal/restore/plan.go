// Package restore implements the bare-metal provisioning pipeline: it
// turns a raw or partially-existing disk into a bootable encrypted
// BTRFS system and copies a backup onto it. Operator decisions
// (mode, partition selection, confirmations) are collected into a Plan
// before the pipeline runs; the pipeline itself is a function of a
// resolved Plan and the validated configuration.
package restore

import (
	"fmt"
	"strings"

	"github.com/sebetc4/zimnica/internal/disk"
)

// Mode selects the provisioning strategy. Fixed at start, never
// changed mid-run.
type Mode string

const (
	// ModeFullDisk erases one whole target disk and derives every
	// partition from it.
	ModeFullDisk Mode = "full-disk"
	// ModePartitions restores onto operator-selected partitions and
	// never writes to the EFI system partition, so a second operating
	// system's boot entry survives.
	ModePartitions Mode = "partitions"
)

// Action tags what the pipeline may do to a partition.
type Action string

const (
	ActionPreserve Action = "preserve"
	ActionFormat   Action = "format"
)

// Role names the three partitions a restored system needs.
type Role string

const (
	RoleEFI  Role = "EFI"
	RoleBoot Role = "boot"
	RoleRoot Role = "root"
)

var allRoles = []Role{RoleEFI, RoleBoot, RoleRoot}

// Target is one partition of the plan: a device path plus what the
// pipeline is allowed to do to it.
type Target struct {
	Device string
	Action Action
}

// Plan is the fixed restore target. Confirmed once by the operator and
// never recomputed mid-pipeline.
type Plan struct {
	Mode    Mode
	Disk    string // full-disk mode only: the disk the partitions derive from
	Targets map[Role]Target
}

// FullDiskPlan derives all three partitions arithmetically from one
// target disk. Every role is formatted.
func FullDiskPlan(diskPath string) Plan {
	return Plan{
		Mode: ModeFullDisk,
		Disk: diskPath,
		Targets: map[Role]Target{
			RoleEFI:  {Device: disk.PartitionDevice(diskPath, 1), Action: ActionFormat},
			RoleBoot: {Device: disk.PartitionDevice(diskPath, 2), Action: ActionFormat},
			RoleRoot: {Device: disk.PartitionDevice(diskPath, 3), Action: ActionFormat},
		},
	}
}

// PartitionsPlan builds the dual-boot-safe plan from three
// operator-selected devices. The EFI partition is always preserved.
func PartitionsPlan(efi, boot, root string) Plan {
	return Plan{
		Mode: ModePartitions,
		Targets: map[Role]Target{
			RoleEFI:  {Device: efi, Action: ActionPreserve},
			RoleBoot: {Device: boot, Action: ActionFormat},
			RoleRoot: {Device: root, Action: ActionFormat},
		},
	}
}

// Device returns the device path of a role.
func (p Plan) Device(role Role) string {
	return p.Targets[role].Device
}

// Validate enforces the plan invariants: every role present, no two
// roles on the same device, and the EFI partition preserved in
// partition-preserving mode.
func (p Plan) Validate() error {
	seen := make(map[string]Role, len(allRoles))
	for _, role := range allRoles {
		target, ok := p.Targets[role]
		if !ok || target.Device == "" {
			return fmt.Errorf("no device selected for the %s partition", role)
		}
		if other, dup := seen[target.Device]; dup {
			return fmt.Errorf("%s and %s roles resolve to the same device %s", other, role, target.Device)
		}
		seen[target.Device] = role
	}

	if p.Mode == ModePartitions && p.Targets[RoleEFI].Action != ActionPreserve {
		return fmt.Errorf("the EFI partition must be preserved in %s mode", ModePartitions)
	}
	if p.Mode == ModeFullDisk {
		for _, role := range allRoles {
			if p.Targets[role].Action != ActionFormat {
				return fmt.Errorf("every partition is formatted in %s mode", ModeFullDisk)
			}
		}
	}
	return nil
}

// Describe renders the plan for the operator confirmation, naming the
// exact devices about to be written.
func (p Plan) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Restore mode: %s\n", p.Mode)
	if p.Disk != "" {
		fmt.Fprintf(&b, "Target disk: %s (WILL BE ERASED)\n", p.Disk)
	}
	for _, role := range allRoles {
		target := p.Targets[role]
		note := "will be ERASED and formatted"
		if target.Action == ActionPreserve {
			note = "preserved, never written"
		}
		fmt.Fprintf(&b, "  %-5s %s (%s)\n", role+":", target.Device, note)
	}
	return b.String()
}
