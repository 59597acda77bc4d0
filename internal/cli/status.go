package cli

import (
	"os"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/sebetc4/zimnica/internal/config"
	"github.com/sebetc4/zimnica/internal/ui"
	"github.com/sebetc4/zimnica/internal/volume"
)

// StatusCommand reports the state of the configured drives
type StatusCommand struct {
	ctx     *GlobalContext
	jsonOut bool
}

// driveStatus is one drive's reported state.
type driveStatus struct {
	Drive     int    `json:"drive"`
	Label     string `json:"label"`
	Device    string `json:"device"`
	Connected bool   `json:"connected"`
	Unlocked  bool   `json:"unlocked"`
	Mounted   bool   `json:"mounted"`
	Mount     string `json:"mount"`
	Used      string `json:"used,omitempty"`
	Free      string `json:"free,omitempty"`
	Total     string `json:"total,omitempty"`
}

// NewStatusCommand creates the status command
func NewStatusCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &StatusCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the configured backup drives",
		Args:  cobra.NoArgs,
		RunE:  cmd.Run,
	}

	cobraCmd.Flags().BoolVar(&cmd.jsonOut, "json", false, "Output as JSON")

	return cobraCmd
}

// Run executes the status command
func (c *StatusCommand) Run(cmd *cobra.Command, args []string) error {
	cfg, err := c.ctx.Config()
	if err != nil {
		return err
	}

	var statuses []driveStatus
	for _, n := range []int{1, 2} {
		dc, ok := cfg.Drive(n)
		if !ok {
			continue
		}
		statuses = append(statuses, c.inspect(n, dc))
	}

	if c.jsonOut {
		return ui.PrintJSON(statuses)
	}

	table := ui.NewTable("DRIVE", "DEVICE", "STATE", "MOUNT", "USED", "FREE", "TOTAL")
	for _, s := range statuses {
		state := "not connected"
		switch {
		case s.Mounted:
			state = "mounted"
		case s.Unlocked:
			state = "unlocked"
		case s.Connected:
			state = "locked"
		}
		table.AddRow(s.Label, s.Device, state, s.Mount, s.Used, s.Free, s.Total)
	}
	table.Print()
	return nil
}

func (c *StatusCommand) inspect(n int, dc config.DriveConfig) driveStatus {
	s := driveStatus{
		Drive:  n,
		Label:  dc.Label,
		Device: dc.Device,
		Mount:  dc.Mount,
	}

	if _, err := os.Stat(dc.Device); err == nil {
		s.Connected = true
	}
	if _, err := os.Stat(volume.MapperPath(dc.Mapper)); err == nil {
		s.Unlocked = true
	}

	mounted, err := c.ctx.Inspector.IsMounted(dc.Mount)
	if err != nil || !mounted {
		return s
	}
	s.Mounted = true

	if total, err := c.ctx.Inspector.TotalBytes(dc.Mount); err == nil {
		s.Total = units.BytesSize(float64(total))
	}
	if free, err := c.ctx.Inspector.FreeBytes(dc.Mount); err == nil {
		s.Free = units.BytesSize(float64(free))
	}
	if used, err := c.ctx.Inspector.UsedBytes(dc.Mount); err == nil {
		s.Used = units.BytesSize(float64(used))
	}
	return s
}
