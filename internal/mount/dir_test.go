package mount

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"bazil.org/fuse"

	"playfs/internal/playground"
)

func setupTestFS(t *testing.T) (*FS, *playground.FileSystem) {
	t.Helper()
	pg := playground.New(playground.WithReleaseDelay(time.Hour))
	f := New(pg)
	t.Cleanup(func() {
		f.stop()
		pg.Close()
	})
	return f, pg
}

func rootDir(t *testing.T, f *FS) *Dir {
	t.Helper()
	root, err := f.Root()
	if err != nil {
		t.Fatalf("Failed to get root: %v", err)
	}
	dir, ok := root.(*Dir)
	if !ok {
		t.Fatal("Root should be a Dir")
	}
	return dir
}

func direntNames(entries []fuse.Dirent) map[string]fuse.DirentType {
	names := make(map[string]fuse.DirentType)
	for _, e := range entries {
		names[e.Name] = e.Type
	}
	return names
}

func TestDirOperations(t *testing.T) {
	f, pg := setupTestFS(t)
	ctx := context.Background()

	if err := pg.Load(map[string]string{
		"file1.txt":           "test",
		"dir1/file2.txt":      "test",
		"dir1/dir2/file3.txt": "test",
	}); err != nil {
		t.Fatalf("Failed to load files: %v", err)
	}

	t.Run("RootDirectory", func(t *testing.T) {
		dir := rootDir(t, f)

		attr := &fuse.Attr{}
		if err := dir.Attr(ctx, attr); err != nil {
			t.Errorf("Failed to get root attributes: %v", err)
		}
		if attr.Mode&os.ModeDir == 0 {
			t.Error("Root should be a directory")
		}

		entries, err := dir.ReadDirAll(ctx)
		if err != nil {
			t.Fatalf("Failed to read root directory: %v", err)
		}
		names := direntNames(entries)
		if names[OutDirName] != fuse.DT_Dir {
			t.Errorf("Root directory should contain %s", OutDirName)
		}
		if names["dir1"] != fuse.DT_Dir {
			t.Error("dir1 should be listed as a directory")
		}
		if names["file1.txt"] != fuse.DT_File {
			t.Error("file1.txt should be listed as a file")
		}
	})

	t.Run("CreateNestedDirectory", func(t *testing.T) {
		dir := rootDir(t, f)

		parent, err := dir.Mkdir(ctx, &fuse.MkdirRequest{Name: "parent"})
		if err != nil {
			t.Fatalf("Failed to create parent directory: %v", err)
		}
		if _, err := parent.(*Dir).Mkdir(ctx, &fuse.MkdirRequest{Name: "child"}); err != nil {
			t.Fatalf("Failed to create child directory: %v", err)
		}
		if !pg.IsDir("parent/child") {
			t.Error("parent/child should exist in the store")
		}

		found, err := dir.Lookup(ctx, "parent")
		if err != nil {
			t.Fatalf("Failed to lookup parent directory: %v", err)
		}
		if _, err := found.(*Dir).Lookup(ctx, "child"); err != nil {
			t.Errorf("Failed to lookup child directory: %v", err)
		}

		if _, err := dir.Mkdir(ctx, &fuse.MkdirRequest{Name: "parent"}); !errors.Is(err, syscall.EEXIST) {
			t.Errorf("Expected EEXIST for existing directory, got %v", err)
		}
	})

	t.Run("RemoveDirectory", func(t *testing.T) {
		dir := rootDir(t, f)

		err := dir.Remove(ctx, &fuse.RemoveRequest{Name: "dir1", Dir: true})
		if !errors.Is(err, syscall.ENOTEMPTY) {
			t.Errorf("Expected ENOTEMPTY, got %v", err)
		}

		if _, err := dir.Mkdir(ctx, &fuse.MkdirRequest{Name: "empty"}); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := dir.Remove(ctx, &fuse.RemoveRequest{Name: "empty", Dir: true}); err != nil {
			t.Errorf("Failed to remove empty directory: %v", err)
		}
		if _, err := dir.Lookup(ctx, "empty"); !errors.Is(err, syscall.ENOENT) {
			t.Errorf("Removed directory still found: %v", err)
		}

		if err := dir.Remove(ctx, &fuse.RemoveRequest{Name: "file1.txt", Dir: true}); !errors.Is(err, syscall.ENOTDIR) {
			t.Errorf("Expected ENOTDIR for rmdir on a file, got %v", err)
		}
		if err := dir.Remove(ctx, &fuse.RemoveRequest{Name: OutDirName, Dir: true}); !errors.Is(err, syscall.EPERM) {
			t.Errorf("Expected EPERM for removing %s, got %v", OutDirName, err)
		}
	})

	t.Run("RenameDirectory", func(t *testing.T) {
		dir := rootDir(t, f)

		if err := dir.Rename(ctx, &fuse.RenameRequest{OldName: "dir1", NewName: "moved"}, dir); err != nil {
			t.Fatalf("Failed to rename directory: %v", err)
		}
		if !pg.Exists("moved/dir2/file3.txt") || pg.Exists("dir1") {
			t.Error("Subtree was not moved")
		}

		out, _ := dir.Lookup(ctx, OutDirName)
		if err := dir.Rename(ctx, &fuse.RenameRequest{OldName: "moved", NewName: "x"}, out); !errors.Is(err, syscall.EPERM) {
			t.Errorf("Expected EPERM for rename into %s, got %v", OutDirName, err)
		}
	})

	t.Run("RenameReplacesFile", func(t *testing.T) {
		dir := rootDir(t, f)
		if err := pg.Write("a.txt", "new"); err != nil {
			t.Fatal(err)
		}
		if err := pg.Write("b.txt", "old"); err != nil {
			t.Fatal(err)
		}
		if err := dir.Rename(ctx, &fuse.RenameRequest{OldName: "a.txt", NewName: "b.txt"}, dir); err != nil {
			t.Fatalf("Failed to rename over existing file: %v", err)
		}
		if src, _ := pg.Read("b.txt"); src != "new" {
			t.Errorf("b.txt = %q, want %q", src, "new")
		}
	})
}

func TestToFuseError(t *testing.T) {
	pg := playground.New()
	defer pg.Close()

	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"missing parent", pg.Write("missing/a.txt", ""), syscall.EINVAL},
		{"read missing", func() error { _, err := pg.Read("nope"); return err }(), syscall.ENOENT},
		{"read only", ErrReadOnly, syscall.EROFS},
		{"os not exist", os.ErrNotExist, syscall.ENOENT},
		{"other", errors.New("boom"), syscall.EIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToFuseError(tt.err); got != tt.want {
				t.Errorf("ToFuseError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
	if ToFuseError(nil) != nil {
		t.Error("ToFuseError(nil) should be nil")
	}
}
