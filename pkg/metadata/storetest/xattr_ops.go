package storetest

import (
	"errors"
	"reflect"
	"testing"

	"github.com/marmos91/dittometa/pkg/metadata/store"
	"golang.org/x/sys/unix"
)

// runXattrOpsTests runs all extended attribute conformance tests.
func runXattrOpsTests(t *testing.T, factory StoreFactory) {
	t.Run("SetGetList", func(t *testing.T) { testXattrSetGetList(t, factory) })
	t.Run("SharedAcrossLinks", func(t *testing.T) { testXattrSharedAcrossLinks(t, factory) })
	t.Run("Missing", func(t *testing.T) { testXattrMissing(t, factory) })
}

// skipIfUnsupported skips the test when the backend cannot store user
// attributes (e.g. an fs store on tmpfs before Linux 6.6) and fails it on any
// other error.
func skipIfUnsupported(t *testing.T, err error) {
	t.Helper()
	if errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP) {
		t.Skipf("user xattrs not supported: %v", err)
	}
	if err != nil && !store.IsNoData(err) {
		t.Fatalf("xattr call failed: %v", err)
	}
}

// testXattrSetGetList verifies the basic attribute round trip.
func testXattrSetGetList(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()
	mkdir(t, s, "d")
	create(t, s, "d/rec", "data")

	skipIfUnsupported(t, s.SetXattr(ctx, "d/rec", "user.b", []byte("2")))
	if err := s.SetXattr(ctx, "d/rec", "user.a", []byte("1")); err != nil {
		t.Fatalf("SetXattr() failed: %v", err)
	}

	v, err := s.GetXattr(ctx, "d/rec", "user.a")
	if err != nil {
		t.Fatalf("GetXattr() failed: %v", err)
	}
	if string(v) != "1" {
		t.Errorf("GetXattr() = %q, want %q", v, "1")
	}

	names, err := s.ListXattrs(ctx, "d/rec")
	if err != nil {
		t.Fatalf("ListXattrs() failed: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"user.a", "user.b"}) {
		t.Errorf("ListXattrs() = %v, want [user.a user.b]", names)
	}

	if err := s.RemoveXattr(ctx, "d/rec", "user.a"); err != nil {
		t.Fatalf("RemoveXattr() failed: %v", err)
	}
	names, _ = s.ListXattrs(ctx, "d/rec")
	if !reflect.DeepEqual(names, []string{"user.b"}) {
		t.Errorf("ListXattrs() after remove = %v, want [user.b]", names)
	}

	// Attributes never change the record data.
	if got := read(t, s, "d/rec"); got != "data" {
		t.Errorf("ReadRecord() = %q, want %q", got, "data")
	}
}

// testXattrSharedAcrossLinks verifies attributes belong to the record, not the name.
func testXattrSharedAcrossLinks(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()
	mkdir(t, s, "d")
	create(t, s, "d/a", "x")
	if err := s.Link(ctx, "d/a", "d/b"); err != nil {
		t.Fatalf("Link() failed: %v", err)
	}

	skipIfUnsupported(t, s.SetXattr(ctx, "d/a", "user.k", []byte("v")))
	v, err := s.GetXattr(ctx, "d/b", "user.k")
	if err != nil {
		t.Fatalf("GetXattr(other link) failed: %v", err)
	}
	if string(v) != "v" {
		t.Errorf("GetXattr(other link) = %q, want %q", v, "v")
	}
}

// testXattrMissing verifies that a missing attribute is reported as ENODATA.
func testXattrMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	mkdir(t, s, "d")
	create(t, s, "d/rec", "x")

	_, err := s.GetXattr(t.Context(), "d/rec", "user.none")
	skipIfUnsupported(t, err)
	if !store.IsNoData(err) {
		t.Errorf("GetXattr(missing) error = %v, want ENODATA", err)
	}
	err = s.RemoveXattr(t.Context(), "d/rec", "user.none")
	if !store.IsNoData(err) {
		t.Errorf("RemoveXattr(missing) error = %v, want ENODATA", err)
	}
}
