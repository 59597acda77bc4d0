package disk

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sebetc4/zimnica/internal/system"
)

// PartitionDevice returns the device path of partition n on disk,
// handling the two Linux naming conventions: NVMe and MMC disks insert
// a "p" before the partition number, SATA/SCSI disks do not.
func PartitionDevice(diskPath string, n int) string {
	base := diskPath[strings.LastIndex(diskPath, "/")+1:]
	if strings.HasPrefix(base, "nvme") || strings.HasPrefix(base, "mmcblk") || strings.HasPrefix(base, "loop") {
		return fmt.Sprintf("%sp%d", diskPath, n)
	}
	return fmt.Sprintf("%s%d", diskPath, n)
}

// DeviceExists reports whether the device node is present.
func DeviceExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WaitForDevice waits for a device node to appear after a partition
// table change, settling udev between attempts.
func WaitForDevice(run system.Runner, path string, attempts int) error {
	for i := 0; i < attempts; i++ {
		if DeviceExists(path) {
			return nil
		}
		run.Run("udevadm", "settle")
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("device %s did not appear", path)
}

// Partition describes one block device partition as reported by lsblk.
type Partition struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Size       string `json:"size"`
	Fstype     string `json:"fstype"`
	Label      string `json:"label"`
	UUID       string `json:"uuid"`
	Mountpoint string `json:"mountpoint"`
	Type       string `json:"type"`
}

type lsblkDevice struct {
	Partition
	Children []lsblkDevice `json:"children"`
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

// ListPartitions enumerates the partitions of all attached disks, for
// the interactive selection in partition-preserving restore mode.
func ListPartitions(run system.Runner) ([]Partition, error) {
	out, err := run.RunOutput("lsblk", "-J", "-o", "NAME,PATH,SIZE,FSTYPE,LABEL,UUID,MOUNTPOINT,TYPE")
	if err != nil {
		return nil, fmt.Errorf("failed to list block devices: %w", err)
	}
	return parseLsblk(out)
}

func parseLsblk(out string) ([]Partition, error) {
	var parsed lsblkOutput
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse lsblk output: %w", err)
	}

	var parts []Partition
	var walk func(devs []lsblkDevice)
	walk = func(devs []lsblkDevice) {
		for _, d := range devs {
			if d.Type == "part" {
				parts = append(parts, d.Partition)
			}
			walk(d.Children)
		}
	}
	walk(parsed.BlockDevices)
	return parts, nil
}
