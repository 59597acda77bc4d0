package volume

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sebetc4/zimnica/internal/system"
	"github.com/sebetc4/zimnica/internal/ui"
)

type fakeUnlocker struct {
	mu       sync.Mutex
	opened   map[string]bool
	calls    []string
	failOpen bool
}

func newFakeUnlocker() *fakeUnlocker {
	return &fakeUnlocker{opened: make(map[string]bool)}
}

func (f *fakeUnlocker) Open(device, mapper string, pass *system.SecureBytes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "open "+mapper)
	if f.failOpen {
		return errors.New("open failed")
	}
	f.opened[mapper] = true
	return nil
}

func (f *fakeUnlocker) Close(mapper string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "close "+mapper)
	if !f.opened[mapper] {
		return fmt.Errorf("%s is not open", mapper)
	}
	delete(f.opened, mapper)
	return nil
}

type fakeMounter struct {
	mu        sync.Mutex
	mounted   map[string]bool
	options   map[string]string
	calls     []string
	failMount bool
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{mounted: make(map[string]bool), options: make(map[string]string)}
}

func (f *fakeMounter) Mount(device, mountPoint string, opts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "mount "+mountPoint)
	if f.failMount {
		return errors.New("mount failed")
	}
	f.mounted[mountPoint] = true
	return nil
}

func (f *fakeMounter) Unmount(mountPoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "unmount "+mountPoint)
	if !f.mounted[mountPoint] {
		return fmt.Errorf("%s is not mounted", mountPoint)
	}
	delete(f.mounted, mountPoint)
	return nil
}

func (f *fakeMounter) IsMounted(path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounted[path], nil
}

func (f *fakeMounter) MountOptions(path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.options[path], nil
}

func fakePrompt(label string) (*system.SecureBytes, error) {
	return system.NewSecureBytes([]byte("secret")), nil
}

// testSpec builds a spec whose device node actually exists.
func testSpec(t *testing.T, mapper, mount string) Spec {
	t.Helper()
	device := filepath.Join(t.TempDir(), "dev-"+mapper)
	if err := os.WriteFile(device, nil, 0600); err != nil {
		t.Fatal(err)
	}
	return Spec{
		Device:      device,
		Mapper:      mapper,
		Mount:       mount,
		Label:       mapper,
		Compression: "zstd:3",
	}
}

func newTestRegistry() (*Registry, *fakeUnlocker, *fakeMounter) {
	unlocker := newFakeUnlocker()
	mounter := newFakeMounter()
	log := ui.NewLogger(false, true, true)
	return NewRegistry(unlocker, mounter, log, fakePrompt), unlocker, mounter
}

func TestAcquireReleaseInverse(t *testing.T) {
	reg, unlocker, mounter := newTestRegistry()
	spec := testSpec(t, "backup1", "/mnt/backup1")

	h, err := reg.Acquire(spec)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !unlocker.opened["backup1"] {
		t.Error("volume should be unlocked")
	}
	if !mounter.mounted["/mnt/backup1"] {
		t.Error("volume should be mounted")
	}
	if len(reg.Open()) != 1 {
		t.Errorf("registry should hold 1 handle, got %d", len(reg.Open()))
	}

	if err := reg.Release(h); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if unlocker.opened["backup1"] {
		t.Error("volume should be locked after release")
	}
	if mounter.mounted["/mnt/backup1"] {
		t.Error("volume should be unmounted after release")
	}
	if len(reg.Open()) != 0 {
		t.Error("registry should be empty after release")
	}
}

func TestDoubleReleaseIsNoop(t *testing.T) {
	reg, unlocker, _ := newTestRegistry()
	spec := testSpec(t, "backup1", "/mnt/backup1")

	h, err := reg.Acquire(spec)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := reg.Release(h); err != nil {
		t.Fatalf("first Release failed: %v", err)
	}

	calls := len(unlocker.calls)
	if err := reg.Release(h); err != nil {
		t.Fatalf("second Release should be a no-op, got: %v", err)
	}
	if len(unlocker.calls) != calls {
		t.Error("second Release must not touch the unlocker")
	}
}

func TestAcquireMissingDevice(t *testing.T) {
	reg, _, _ := newTestRegistry()
	spec := Spec{
		Device: "/nonexistent/device",
		Mapper: "backup1",
		Mount:  "/mnt/backup1",
		Label:  "drive 1",
	}

	_, err := reg.Acquire(spec)
	if !errors.Is(err, ErrDriveNotPresent) {
		t.Fatalf("expected ErrDriveNotPresent, got %v", err)
	}
}

func TestAcquireAlreadyMountedIsIdempotent(t *testing.T) {
	reg, unlocker, mounter := newTestRegistry()
	spec := testSpec(t, "backup1", "/mnt/backup1")

	mounter.mounted["/mnt/backup1"] = true
	mounter.options["/mnt/backup1"] = "rw,noatime,compress=zstd:1,subvol=/"

	h, err := reg.Acquire(spec)
	if err != nil {
		t.Fatalf("Acquire on mounted volume should succeed, got: %v", err)
	}
	if len(unlocker.calls) != 0 {
		t.Error("Acquire on mounted volume must not unlock anything")
	}
	if h.Owned() {
		t.Error("found-mounted handle must not be owned")
	}
	if len(reg.Open()) != 0 {
		t.Error("found-mounted volume must not be registered")
	}

	// Releasing a handle we do not own must not unmount the volume.
	if err := reg.Release(h); err != nil {
		t.Fatalf("Release of unowned handle failed: %v", err)
	}
	if !mounter.mounted["/mnt/backup1"] {
		t.Error("unowned volume must stay mounted after release")
	}
}

func TestMountFailureReversesUnlock(t *testing.T) {
	reg, unlocker, mounter := newTestRegistry()
	spec := testSpec(t, "backup1", "/mnt/backup1")
	mounter.failMount = true

	_, err := reg.Acquire(spec)
	if err == nil {
		t.Fatal("Acquire should fail when mount fails")
	}
	if unlocker.opened["backup1"] {
		t.Error("failed mount must not leak a decrypted mapper")
	}
	if len(reg.Open()) != 0 {
		t.Error("failed acquire must not register a handle")
	}
}

func TestReleaseAllReverseOrder(t *testing.T) {
	reg, unlocker, mounter := newTestRegistry()
	specA := testSpec(t, "backupA", "/mnt/a")
	specB := testSpec(t, "backupB", "/mnt/b")

	if _, err := reg.Acquire(specA); err != nil {
		t.Fatalf("Acquire A failed: %v", err)
	}
	if _, err := reg.Acquire(specB); err != nil {
		t.Fatalf("Acquire B failed: %v", err)
	}

	mounter.calls = nil
	unlocker.calls = nil
	reg.ReleaseAll()

	if mounter.mounted["/mnt/a"] || mounter.mounted["/mnt/b"] {
		t.Error("both volumes should be unmounted after ReleaseAll")
	}
	if unlocker.opened["backupA"] || unlocker.opened["backupB"] {
		t.Error("both volumes should be locked after ReleaseAll")
	}
	if len(reg.Open()) != 0 {
		t.Error("registry should be empty after ReleaseAll")
	}

	// Reverse acquisition order: B torn down before A.
	if len(mounter.calls) < 2 || mounter.calls[0] != "unmount /mnt/b" || mounter.calls[1] != "unmount /mnt/a" {
		t.Errorf("unexpected teardown order: %v", mounter.calls)
	}

	// Second ReleaseAll is a no-op.
	mounter.calls = nil
	reg.ReleaseAll()
	if len(mounter.calls) != 0 {
		t.Errorf("second ReleaseAll should do nothing, got %v", mounter.calls)
	}
}

func TestDisownedHandleSurvivesReleaseAll(t *testing.T) {
	reg, unlocker, mounter := newTestRegistry()
	spec := testSpec(t, "backup1", "/mnt/backup1")

	h, err := reg.Acquire(spec)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	reg.Disown(h)

	if len(reg.Open()) != 0 {
		t.Error("disowned handle must leave the registry")
	}

	// Exit-time cleanup must leave the persistent mount alone.
	reg.ReleaseAll()
	if !mounter.mounted["/mnt/backup1"] {
		t.Error("disowned volume must stay mounted after ReleaseAll")
	}
	if !unlocker.opened["backup1"] {
		t.Error("disowned volume must stay unlocked after ReleaseAll")
	}

	// An explicit Release afterwards is a no-op too.
	if err := reg.Release(h); err != nil {
		t.Fatalf("Release of disowned handle failed: %v", err)
	}
	if !mounter.mounted["/mnt/backup1"] {
		t.Error("disowned volume must stay mounted after Release")
	}
}

func TestConcurrentAcquiresPromptOneAtATime(t *testing.T) {
	unlocker := newFakeUnlocker()
	mounter := newFakeMounter()
	log := ui.NewLogger(false, true, true)

	var mu sync.Mutex
	active, maxActive := 0, 0
	prompt := func(label string) (*system.SecureBytes, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return system.NewSecureBytes([]byte("secret")), nil
	}
	reg := NewRegistry(unlocker, mounter, log, prompt)

	specA := testSpec(t, "backupA", "/mnt/a")
	specB := testSpec(t, "backupB", "/mnt/b")

	var wg sync.WaitGroup
	for _, spec := range []Spec{specA, specB} {
		wg.Add(1)
		go func(spec Spec) {
			defer wg.Done()
			if _, err := reg.Acquire(spec); err != nil {
				t.Errorf("Acquire %s failed: %v", spec.Mapper, err)
			}
		}(spec)
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("passphrase prompts overlapped (%d at once)", maxActive)
	}
	if !mounter.mounted["/mnt/a"] || !mounter.mounted["/mnt/b"] {
		t.Error("both volumes should be mounted")
	}
}

func TestReleaseAllContinuesPastFailures(t *testing.T) {
	reg, unlocker, mounter := newTestRegistry()
	specA := testSpec(t, "backupA", "/mnt/a")
	specB := testSpec(t, "backupB", "/mnt/b")

	if _, err := reg.Acquire(specA); err != nil {
		t.Fatalf("Acquire A failed: %v", err)
	}
	if _, err := reg.Acquire(specB); err != nil {
		t.Fatalf("Acquire B failed: %v", err)
	}

	// Simulate B's mount having vanished; its unmount will fail but A
	// must still be released.
	delete(mounter.mounted, "/mnt/b")

	reg.ReleaseAll()

	if mounter.mounted["/mnt/a"] {
		t.Error("A should be unmounted despite B's failure")
	}
	if unlocker.opened["backupA"] {
		t.Error("A should be locked despite B's failure")
	}
}

func TestCompressionFromOptions(t *testing.T) {
	tests := []struct {
		opts string
		want string
	}{
		{"rw,noatime,compress=zstd:3,subvol=/root", "zstd:3"},
		{"rw,compress-force=zstd:1", "zstd:1"},
		{"rw,noatime", ""},
	}
	for _, tt := range tests {
		if got := CompressionFromOptions(tt.opts); got != tt.want {
			t.Errorf("CompressionFromOptions(%q) = %q, want %q", tt.opts, got, tt.want)
		}
	}
}
