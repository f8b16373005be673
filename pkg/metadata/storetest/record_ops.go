package storetest

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/marmos91/dittometa/pkg/metadata/store"
	"golang.org/x/sys/unix"
)

// runRecordOpsTests runs all record operation conformance tests.
func runRecordOpsTests(t *testing.T, factory StoreFactory) {
	t.Run("CreateAndRead", func(t *testing.T) { testCreateAndRead(t, factory) })
	t.Run("CreateIsExclusive", func(t *testing.T) { testCreateIsExclusive(t, factory) })
	t.Run("CreateInMissingDir", func(t *testing.T) { testCreateInMissingDir(t, factory) })
	t.Run("EmptyRecord", func(t *testing.T) { testEmptyRecord(t, factory) })
	t.Run("WriteOverwrites", func(t *testing.T) { testWriteOverwrites(t, factory) })
	t.Run("HardLinksShareData", func(t *testing.T) { testHardLinksShareData(t, factory) })
	t.Run("LinkTargetTaken", func(t *testing.T) { testLinkTargetTaken(t, factory) })
	t.Run("RenameReplacesTarget", func(t *testing.T) { testRenameReplacesTarget(t, factory) })
	t.Run("RenameOntoOwnLink", func(t *testing.T) { testRenameOntoOwnLink(t, factory) })
	t.Run("RemoveMissing", func(t *testing.T) { testRemoveMissing(t, factory) })
}

// testCreateAndRead verifies a created record reads back unchanged.
func testCreateAndRead(t *testing.T, factory StoreFactory) {
	s := factory(t)
	mkdir(t, s, "a/b")

	create(t, s, "a/b/rec", "hello")

	if got := read(t, s, "a/b/rec"); got != "hello" {
		t.Errorf("ReadRecord() = %q, want %q", got, "hello")
	}

	ok, err := s.Exists(t.Context(), "a/b/rec")
	if err != nil || !ok {
		t.Errorf("Exists() = %v, %v, want true", ok, err)
	}
	if n := linkCount(t, s, "a/b/rec"); n != 1 {
		t.Errorf("link count = %d, want 1", n)
	}

	_, err = s.ReadRecord(t.Context(), "a/b/missing")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadRecord(missing) error = %v, want ErrNotExist", err)
	}
	ok, err = s.Exists(t.Context(), "a/b/missing")
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v, want false", ok, err)
	}
}

// testCreateIsExclusive verifies a second create of the same name fails with EEXIST.
func testCreateIsExclusive(t *testing.T, factory StoreFactory) {
	s := factory(t)
	mkdir(t, s, "d")
	create(t, s, "d/rec", "one")

	err := s.CreateRecord(t.Context(), "d/rec", []byte("two"))
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("CreateRecord(existing) error = %v, want ErrExist", err)
	}
	if got := read(t, s, "d/rec"); got != "one" {
		t.Errorf("record was modified by failed create: %q", got)
	}

	mkdir(t, s, "d/sub")
	err = s.CreateRecord(t.Context(), "d/sub", []byte("x"))
	if !errors.Is(err, fs.ErrExist) {
		t.Errorf("CreateRecord(over directory) error = %v, want ErrExist", err)
	}
}

// testCreateInMissingDir verifies that directories are not created implicitly.
func testCreateInMissingDir(t *testing.T, factory StoreFactory) {
	s := factory(t)

	err := s.CreateRecord(t.Context(), "nope/rec", []byte("x"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("CreateRecord(missing dir) error = %v, want ErrNotExist", err)
	}
}

// testEmptyRecord verifies that a record without data is reported as ErrEmptyRecord.
func testEmptyRecord(t *testing.T, factory StoreFactory) {
	s := factory(t)
	mkdir(t, s, "d")
	create(t, s, "d/empty", "")

	_, err := s.ReadRecord(t.Context(), "d/empty")
	if !errors.Is(err, store.ErrEmptyRecord) {
		t.Fatalf("ReadRecord(empty) error = %v, want ErrEmptyRecord", err)
	}

	// An empty record still exists and can be removed.
	if err := s.Remove(t.Context(), "d/empty"); err != nil {
		t.Errorf("Remove(empty) failed: %v", err)
	}
}

// testWriteOverwrites verifies that WriteRecord replaces the data and never creates.
func testWriteOverwrites(t *testing.T, factory StoreFactory) {
	s := factory(t)
	mkdir(t, s, "d")
	create(t, s, "d/rec", "a much longer first version")

	if err := s.WriteRecord(t.Context(), "d/rec", []byte("short")); err != nil {
		t.Fatalf("WriteRecord() failed: %v", err)
	}
	if got := read(t, s, "d/rec"); got != "short" {
		t.Errorf("ReadRecord() = %q, want %q", got, "short")
	}

	err := s.WriteRecord(t.Context(), "d/missing", []byte("x"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("WriteRecord(missing) error = %v, want ErrNotExist", err)
	}
}

// testHardLinksShareData verifies that every name of a record observes writes
// and that the record survives until its last name is removed.
func testHardLinksShareData(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()
	mkdir(t, s, "x")
	mkdir(t, s, "y")
	create(t, s, "x/name", "v1")

	if err := s.Link(ctx, "x/name", "y/by-id"); err != nil {
		t.Fatalf("Link() failed: %v", err)
	}
	if n := linkCount(t, s, "x/name"); n != 2 {
		t.Errorf("link count = %d, want 2", n)
	}

	if err := s.WriteRecord(ctx, "y/by-id", []byte("v2")); err != nil {
		t.Fatalf("WriteRecord() failed: %v", err)
	}
	if got := read(t, s, "x/name"); got != "v2" {
		t.Errorf("ReadRecord(other link) = %q, want %q", got, "v2")
	}

	if err := s.Remove(ctx, "x/name"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if n := linkCount(t, s, "y/by-id"); n != 1 {
		t.Errorf("link count after remove = %d, want 1", n)
	}
	if got := read(t, s, "y/by-id"); got != "v2" {
		t.Errorf("ReadRecord(remaining link) = %q, want %q", got, "v2")
	}
}

// testLinkTargetTaken verifies that Link fails with EEXIST and leaves both records intact.
func testLinkTargetTaken(t *testing.T, factory StoreFactory) {
	s := factory(t)
	mkdir(t, s, "d")
	create(t, s, "d/a", "A")
	create(t, s, "d/b", "B")

	err := s.Link(t.Context(), "d/a", "d/b")
	if !errors.Is(err, fs.ErrExist) && !errors.Is(err, unix.EEXIST) {
		t.Fatalf("Link(onto existing) error = %v, want EEXIST", err)
	}
	if n := linkCount(t, s, "d/a"); n != 1 {
		t.Errorf("link count = %d, want 1", n)
	}
	if got := read(t, s, "d/b"); got != "B" {
		t.Errorf("ReadRecord(target) = %q, want %q", got, "B")
	}

	err = s.Link(t.Context(), "d/missing", "d/c")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Link(missing source) error = %v, want ErrNotExist", err)
	}
}

// testRenameReplacesTarget verifies rename semantics across directories.
func testRenameReplacesTarget(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()
	mkdir(t, s, "src")
	mkdir(t, s, "dst")
	create(t, s, "src/a", "A")
	create(t, s, "dst/b", "B")
	if err := s.Link(ctx, "dst/b", "dst/b2"); err != nil {
		t.Fatalf("Link() failed: %v", err)
	}

	if err := s.Rename(ctx, "src/a", "dst/b"); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}

	if got := read(t, s, "dst/b"); got != "A" {
		t.Errorf("ReadRecord(target) = %q, want %q", got, "A")
	}
	if ok, _ := s.Exists(ctx, "src/a"); ok {
		t.Error("source still exists after rename")
	}
	// The replaced record loses one name but survives through its other link.
	if n := linkCount(t, s, "dst/b2"); n != 1 {
		t.Errorf("replaced record link count = %d, want 1", n)
	}
	if got := read(t, s, "dst/b2"); got != "B" {
		t.Errorf("ReadRecord(replaced) = %q, want %q", got, "B")
	}
}

// testRenameOntoOwnLink verifies that renaming onto another name of the same
// record leaves both names in place.
func testRenameOntoOwnLink(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()
	mkdir(t, s, "d")
	create(t, s, "d/a", "A")
	if err := s.Link(ctx, "d/a", "d/b"); err != nil {
		t.Fatalf("Link() failed: %v", err)
	}

	if err := s.Rename(ctx, "d/a", "d/b"); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}
	if n := linkCount(t, s, "d/b"); n != 2 {
		t.Errorf("link count = %d, want 2", n)
	}
	if ok, _ := s.Exists(ctx, "d/a"); !ok {
		t.Error("source vanished after rename onto own link")
	}
}

// testRemoveMissing verifies Remove reports ENOENT.
func testRemoveMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	mkdir(t, s, "d")

	err := s.Remove(t.Context(), "d/missing")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Remove(missing) error = %v, want ErrNotExist", err)
	}
}
