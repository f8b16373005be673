// Package storetest provides a conformance test suite for record store implementations.
//
// All record store backends (fs, memory, badger) should pass these tests.
// The suite verifies that every store implementation satisfies the RecordStore
// behavioral contract: exclusive creation, shared hard links, link counts,
// rename over existing records, empty record detection, directory listing and
// extended attributes.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    storetest.RunConformanceSuite(t, func(t *testing.T) store.RecordStore {
//	        return memory.NewMemoryRecordStore()
//	    })
//	}
//
// The factory function receives *testing.T so it can call t.TempDir() for
// stores that need filesystem paths (e.g., BadgerDB) and t.Cleanup for teardown.
package storetest
