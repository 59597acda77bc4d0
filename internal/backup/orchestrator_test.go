package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebetc4/zimnica/internal/config"
)

func TestSelectFoldersDefaults(t *testing.T) {
	source := t.TempDir()
	for _, name := range []string{"root", "home"} {
		if err := os.MkdirAll(filepath.Join(source, name), 0755); err != nil {
			t.Fatal(err)
		}
	}
	// A stray directory outside the known set is ignored.
	if err := os.MkdirAll(filepath.Join(source, "lost+found"), 0755); err != nil {
		t.Fatal(err)
	}

	folders, err := selectFolders(source, config.DriveConfig{})
	if err != nil {
		t.Fatalf("selectFolders failed: %v", err)
	}
	if len(folders) != 2 || folders[0] != "root" || folders[1] != "home" {
		t.Errorf("folders = %v, want [root home]", folders)
	}
}

func TestSelectFoldersConfigured(t *testing.T) {
	source := t.TempDir()
	if err := os.MkdirAll(filepath.Join(source, "home"), 0755); err != nil {
		t.Fatal(err)
	}

	folders, err := selectFolders(source, config.DriveConfig{Folders: []string{"home"}})
	if err != nil {
		t.Fatalf("selectFolders failed: %v", err)
	}
	if len(folders) != 1 || folders[0] != "home" {
		t.Errorf("folders = %v, want [home]", folders)
	}
}

func TestSelectFoldersMissingConfigured(t *testing.T) {
	source := t.TempDir()
	if _, err := selectFolders(source, config.DriveConfig{Folders: []string{"home"}}); err == nil {
		t.Error("a configured folder missing from the source should be an error")
	}
}

func TestSelectFoldersEmptySource(t *testing.T) {
	if _, err := selectFolders(t.TempDir(), config.DriveConfig{}); err == nil {
		t.Error("a source without any known folder should be an error")
	}
}
