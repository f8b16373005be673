package storetest

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"testing"

	"golang.org/x/sys/unix"
)

// runDirOpsTests runs all directory operation conformance tests.
func runDirOpsTests(t *testing.T, factory StoreFactory) {
	t.Run("ListDirectory", func(t *testing.T) { testListDirectory(t, factory) })
	t.Run("ListPagination", func(t *testing.T) { testListPagination(t, factory) })
	t.Run("ListMissingDirectory", func(t *testing.T) { testListMissingDirectory(t, factory) })
	t.Run("MkdirAllIdempotent", func(t *testing.T) { testMkdirAllIdempotent(t, factory) })
	t.Run("RemoveDirectory", func(t *testing.T) { testRemoveDirectory(t, factory) })
}

// testListDirectory verifies that listing returns records and sub-directories in lexical order.
func testListDirectory(t *testing.T, factory StoreFactory) {
	s := factory(t)
	mkdir(t, s, "d")
	create(t, s, "d/beta", "b")
	create(t, s, "d/alpha", "a")
	mkdir(t, s, "d/#fSiDs#")

	names, next, err := s.List(t.Context(), "d", 0, 0)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}

	want := []string{"#fSiDs#", "alpha", "beta"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("List() = %v, want %v", names, want)
	}
	if next != 3 {
		t.Errorf("next offset = %d, want 3", next)
	}
}

// testListPagination verifies offset/limit continuation.
func testListPagination(t *testing.T, factory StoreFactory) {
	s := factory(t)
	mkdir(t, s, "d")
	for i := 0; i < 7; i++ {
		create(t, s, "d/"+fmt.Sprintf("e%02d", i), "x")
	}

	var all []string
	offset := 0
	for pages := 0; pages < 10; pages++ {
		names, next, err := s.List(t.Context(), "d", offset, 3)
		if err != nil {
			t.Fatalf("List(offset=%d) failed: %v", offset, err)
		}
		all = append(all, names...)
		offset = next
		if len(names) < 3 {
			break
		}
	}

	if len(all) != 7 {
		t.Fatalf("paged listing returned %d names, want 7: %v", len(all), all)
	}
	for i, name := range all {
		if want := fmt.Sprintf("e%02d", i); name != want {
			t.Errorf("name[%d] = %q, want %q", i, name, want)
		}
	}
}

// testListMissingDirectory verifies that listing a missing directory fails with ENOENT.
func testListMissingDirectory(t *testing.T, factory StoreFactory) {
	s := factory(t)

	_, _, err := s.List(t.Context(), "missing", 0, 0)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("List(missing) error = %v, want ErrNotExist", err)
	}
}

// testMkdirAllIdempotent verifies MkdirAll on an existing tree and over a record.
func testMkdirAllIdempotent(t *testing.T, factory StoreFactory) {
	s := factory(t)
	mkdir(t, s, "a/b/c")
	mkdir(t, s, "a/b/c")
	mkdir(t, s, "a/b")

	names, _, err := s.List(t.Context(), "a/b", 0, 0)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"c"}) {
		t.Errorf("List() = %v, want [c]", names)
	}

	create(t, s, "a/rec", "x")
	if err := s.MkdirAll(t.Context(), "a/rec/sub"); err == nil {
		t.Error("MkdirAll() below a record succeeded, want error")
	}
}

// testRemoveDirectory verifies that only empty directories can be removed.
func testRemoveDirectory(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()
	mkdir(t, s, "d/sub")
	create(t, s, "d/rec", "x")

	err := s.RemoveDir(ctx, "d")
	if !errors.Is(err, unix.ENOTEMPTY) {
		t.Fatalf("RemoveDir(non-empty) error = %v, want ENOTEMPTY", err)
	}

	if err := s.RemoveDir(ctx, "d/sub"); err != nil {
		t.Fatalf("RemoveDir(empty) failed: %v", err)
	}
	if err := s.Remove(ctx, "d/rec"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if err := s.RemoveDir(ctx, "d"); err != nil {
		t.Fatalf("RemoveDir(now empty) failed: %v", err)
	}

	err = s.RemoveDir(ctx, "d")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("RemoveDir(missing) error = %v, want ErrNotExist", err)
	}
}
