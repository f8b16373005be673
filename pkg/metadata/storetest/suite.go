package storetest

import (
	"testing"

	"github.com/marmos91/dittometa/pkg/metadata/store"
)

// StoreFactory creates a fresh RecordStore instance for each test.
type StoreFactory func(t *testing.T) store.RecordStore

// RunConformanceSuite runs the full conformance test suite against the provided
// store factory. Each test gets a fresh store instance to ensure isolation.
//
// The suite covers three categories:
//   - RecordOps: create, read, write, link, rename, remove, link counts
//   - DirOps: mkdir, listing with pagination, non-empty removal
//   - XattrOps: user extended attributes shared across hard links
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("RecordOps", func(t *testing.T) {
		runRecordOpsTests(t, factory)
	})

	t.Run("DirOps", func(t *testing.T) {
		runDirOpsTests(t, factory)
	})

	t.Run("XattrOps", func(t *testing.T) {
		runXattrOpsTests(t, factory)
	})
}

// mkdir is a helper that creates a directory or fails the test.
func mkdir(t *testing.T, s store.RecordStore, dir store.RecordDir) {
	t.Helper()
	if err := s.MkdirAll(t.Context(), dir); err != nil {
		t.Fatalf("MkdirAll(%q) failed: %v", dir, err)
	}
}

// create is a helper that creates a record or fails the test.
func create(t *testing.T, s store.RecordStore, p store.RecordPath, data string) {
	t.Helper()
	if err := s.CreateRecord(t.Context(), p, []byte(data)); err != nil {
		t.Fatalf("CreateRecord(%q) failed: %v", p, err)
	}
}

// read is a helper that reads a record or fails the test.
func read(t *testing.T, s store.RecordStore, p store.RecordPath) string {
	t.Helper()
	data, err := s.ReadRecord(t.Context(), p)
	if err != nil {
		t.Fatalf("ReadRecord(%q) failed: %v", p, err)
	}
	return string(data)
}

// linkCount is a helper that returns the link count of a record or fails the test.
func linkCount(t *testing.T, s store.RecordStore, p store.RecordPath) uint32 {
	t.Helper()
	n, err := s.LinkCount(t.Context(), p)
	if err != nil {
		t.Fatalf("LinkCount(%q) failed: %v", p, err)
	}
	return n
}
