package volume

import (
	"fmt"
	"strings"

	"github.com/sebetc4/zimnica/internal/system"
)

// Unlocker is the block-encryption contract the registry depends on.
type Unlocker interface {
	Open(device, mapper string, pass *system.SecureBytes) error
	Close(mapper string) error
}

// LUKSManager handles LUKS operations
type LUKSManager struct {
	run system.Runner
}

// NewLUKSManager creates a new LUKS manager
func NewLUKSManager(run system.Runner) *LUKSManager {
	return &LUKSManager{run: run}
}

// Format initializes LUKS2 encryption on a device. Destroys existing
// content; callers confirm with the operator first.
func (m *LUKSManager) Format(device string, pass *system.SecureBytes) error {
	err := m.run.RunInput(pass.String()+"\n",
		"cryptsetup", "luksFormat", "--type", "luks2", "--batch-mode", device)
	if err != nil {
		return fmt.Errorf("failed to format %s as LUKS: %w", device, err)
	}
	return nil
}

// Open decrypts a LUKS device into /dev/mapper/<mapper>.
func (m *LUKSManager) Open(device, mapper string, pass *system.SecureBytes) error {
	err := m.run.RunInput(pass.String()+"\n",
		"cryptsetup", "luksOpen", device, mapper)
	if err != nil {
		return fmt.Errorf("failed to open LUKS device %s: %w", device, err)
	}
	return nil
}

// Close locks a decrypted volume, removing its mapper node.
func (m *LUKSManager) Close(mapper string) error {
	if err := m.run.Run("cryptsetup", "luksClose", mapper); err != nil {
		return fmt.Errorf("failed to close LUKS volume %s: %w", mapper, err)
	}
	return nil
}

// IsLUKS checks if a device carries a LUKS header
func (m *LUKSManager) IsLUKS(device string) bool {
	return m.run.Run("cryptsetup", "isLuks", device) == nil
}

// UUID returns the LUKS header UUID of a device.
func (m *LUKSManager) UUID(device string) (string, error) {
	out, err := m.run.RunOutput("cryptsetup", "luksUUID", device)
	if err != nil {
		return "", fmt.Errorf("failed to read LUKS UUID of %s: %w", device, err)
	}
	return strings.TrimSpace(out), nil
}
