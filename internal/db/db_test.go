package db

import (
	"path/filepath"
	"testing"

	"github.com/zulandar/novelsync/internal/models"
)

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 1 {
		t.Errorf("len(AllModels()) = %d, want 1", got)
	}
}

func TestOpen_Memory(t *testing.T) {
	gdb, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(gdb)

	if !gdb.Migrator().HasTable(&models.Setting{}) {
		t.Error("settings table not created")
	}
}

func TestOpen_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "settings.db")
	gdb, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(gdb)

	if err := gdb.Create(&models.Setting{Key: "k", Value: "v"}).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	var got models.Setting
	if err := gdb.First(&got, "key = ?", "k").Error; err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.Value != "v" {
		t.Errorf("Value = %q, want %q", got.Value, "v")
	}
}
