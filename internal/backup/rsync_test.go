package backup

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sebetc4/zimnica/internal/ui"
)

// fakeRunner records invocations and fails RunStream with a chosen
// exit code.
type fakeRunner struct {
	calls    [][]string
	exitCode int
}

type exitErr struct{ code int }

func (e *exitErr) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e *exitErr) ExitCode() int { return e.code }

func (f *fakeRunner) record(name string, args []string) {
	f.calls = append(f.calls, append([]string{name}, args...))
}

func (f *fakeRunner) Run(name string, args ...string) error {
	f.record(name, args)
	return nil
}

func (f *fakeRunner) RunOutput(name string, args ...string) (string, error) {
	f.record(name, args)
	return "", nil
}

func (f *fakeRunner) RunInput(input string, name string, args ...string) error {
	f.record(name, args)
	return nil
}

func (f *fakeRunner) RunStream(name string, args ...string) error {
	f.record(name, args)
	if f.exitCode != 0 {
		return &exitErr{code: f.exitCode}
	}
	return nil
}

func testLogger() *ui.Logger {
	return ui.NewLogger(false, true, true)
}

func TestBuildArgs(t *testing.T) {
	opts := CopyOptions{
		Delete:   true,
		Progress: true,
		Excludes: []string{"*.tmp", ".cache"},
		Xattrs:   true,
	}
	args := buildArgs("/src/root", "/dst/root", opts)
	joined := strings.Join(args, " ")

	for _, want := range []string{"-a", "--numeric-ids", "-H", "-A", "-X", "--delete",
		"--info=progress2", "--exclude *.tmp", "--exclude .cache", "/src/root/ /dst/root/"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q should contain %q", joined, want)
		}
	}
	if strings.Contains(joined, "--dry-run") {
		t.Error("dry-run must be off by default")
	}
}

func TestBuildArgsDryRun(t *testing.T) {
	args := buildArgs("/a", "/b", CopyOptions{DryRun: true})
	if !strings.Contains(strings.Join(args, " "), "--dry-run") {
		t.Error("dry-run flag missing")
	}
}

func TestSyncSoftFailureExitCodes(t *testing.T) {
	for _, code := range []int{exitFilesVanished, exitPartialTransfer} {
		run := &fakeRunner{exitCode: code}
		engine := NewEngine(run, testLogger())
		if err := engine.Sync("/src", "/dst", CopyOptions{}); err != nil {
			t.Errorf("exit code %d should be non-fatal, got: %v", code, err)
		}
	}
}

func TestSyncHardFailure(t *testing.T) {
	run := &fakeRunner{exitCode: 11} // I/O error
	engine := NewEngine(run, testLogger())
	err := engine.Sync("/src", "/dst", CopyOptions{})
	if err == nil {
		t.Fatal("exit code 11 should be fatal")
	}
	var coded *exitErr
	if !errors.As(err, &coded) {
		t.Error("underlying exit error should be preserved in the chain")
	}
}
