package memory_test

import (
	"testing"

	"github.com/marmos91/dittometa/pkg/metadata/store"
	"github.com/marmos91/dittometa/pkg/metadata/store/memory"
	"github.com/marmos91/dittometa/pkg/metadata/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) store.RecordStore {
		return memory.NewMemoryRecordStore()
	})
}
