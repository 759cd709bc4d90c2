package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"time"
)

func TestOSFileSystem_AppendAndList(t *testing.T) {
	dir := t.TempDir()
	var osfs OSFileSystem

	path := filepath.Join(dir, "b.csv")
	if err := osfs.AppendFile(path, []byte("header\n"), 0o644); err != nil {
		t.Fatalf("AppendFile failed: %v", err)
	}
	if err := osfs.AppendFile(path, []byte("row\n"), 0o644); err != nil {
		t.Fatalf("AppendFile failed: %v", err)
	}
	if err := osfs.WriteFile(filepath.Join(dir, "a.csv"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := osfs.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	data, err := osfs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "header\nrow\n" {
		t.Errorf("unexpected content %q", data)
	}

	infos, err := osfs.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 regular files, got %d", len(infos))
	}
	if infos[0].Name() != "a.csv" || infos[1].Name() != "b.csv" {
		t.Errorf("unexpected order: %s, %s", infos[0].Name(), infos[1].Name())
	}

	if err := osfs.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if osfs.Exists(path) {
		t.Error("expected file to be removed")
	}
}

func TestMemoryFileSystem_ReadWrite(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.WriteFile("/data/x.csv", []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := mfs.ReadFile("/data/x.csv")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected hello, got %q", data)
	}

	// callers must not be able to mutate stored bytes
	data[0] = 'j'
	again, _ := mfs.ReadFile("/data/x.csv")
	if string(again) != "hello" {
		t.Errorf("stored data was mutated: %q", again)
	}

	if _, err := mfs.ReadFile("/data/missing.csv"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_Append(t *testing.T) {
	mfs := NewMemoryFileSystem()
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mfs.Now = func() time.Time { return stamp }

	for _, chunk := range []string{"a\n", "b\n", "c\n"} {
		if err := mfs.AppendFile("/d/log.csv", []byte(chunk), 0o644); err != nil {
			t.Fatalf("AppendFile failed: %v", err)
		}
	}
	data, _ := mfs.ReadFile("/d/log.csv")
	if string(data) != "a\nb\nc\n" {
		t.Errorf("unexpected content %q", data)
	}

	info, err := mfs.Stat("/d/log.csv")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 6 {
		t.Errorf("expected size 6, got %d", info.Size())
	}
	if !info.ModTime().Equal(stamp) {
		t.Errorf("expected modtime %v, got %v", stamp, info.ModTime())
	}
}

func TestMemoryFileSystem_ReadDir(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if _, err := mfs.ReadDir("/data"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist for missing dir, got %v", err)
	}

	_ = mfs.MkdirAll("/data", 0o755)
	_ = mfs.WriteFile("/data/z.csv", []byte("1"), 0o644)
	_ = mfs.WriteFile("/data/a.csv", []byte("22"), 0o644)
	_ = mfs.WriteFile("/data/nested/skip.csv", []byte("3"), 0o644)
	_ = mfs.WriteFile("/other/skip.csv", []byte("4"), 0o644)

	infos, err := mfs.ReadDir("/data")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(infos))
	}
	if infos[0].Name() != "a.csv" || infos[0].Size() != 2 {
		t.Errorf("unexpected first entry %s (%d bytes)", infos[0].Name(), infos[0].Size())
	}
	if infos[1].Name() != "z.csv" {
		t.Errorf("unexpected second entry %s", infos[1].Name())
	}
}

func TestMemoryFileSystem_MkdirAllAndStat(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.MkdirAll("/a/b/c", 0o755)

	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		info, err := mfs.Stat(p)
		if err != nil {
			t.Fatalf("Stat(%s) failed: %v", p, err)
		}
		if !info.IsDir() {
			t.Errorf("expected %s to be a directory", p)
		}
	}
}

func TestMemoryFileSystem_Remove(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.MkdirAll("/d", 0o755)
	_ = mfs.WriteFile("/d/f.csv", []byte("x"), 0o644)

	if err := mfs.Remove("/d"); err == nil {
		t.Error("expected error removing non-empty directory")
	}
	if err := mfs.Remove("/d/f.csv"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if mfs.Exists("/d/f.csv") {
		t.Error("file still exists after Remove")
	}
	if err := mfs.Remove("/d/f.csv"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist on second remove, got %v", err)
	}
	if err := mfs.Remove("/d"); err != nil {
		t.Errorf("expected empty directory removal to succeed: %v", err)
	}
}

func TestMemoryFileSystem_SetModTime(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("/f", []byte("x"), 0o644)
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	mfs.SetModTime("/f", old)

	info, _ := mfs.Stat("/f")
	if !info.ModTime().Equal(old) {
		t.Errorf("expected %v, got %v", old, info.ModTime())
	}
}
