// Package replication defines the hook through which the metadata engine
// reports durable changes of buddy-mirrored records to the mirroring
// component. The engine never talks to the secondary node itself: it calls
// the hook exactly once per change, after the record store call returned
// successfully.
package replication

import (
	"context"
	"sync"

	"github.com/marmos91/dittometa/internal/logger"
)

// Kind classifies the record a notification is about.
type Kind uint8

const (
	// KindDentry is a directory entry record (by name or by ID).
	KindDentry Kind = iota + 1

	// KindInode is a standalone file inode record.
	KindInode

	// KindDirectory is a directory inode record or a dentry directory.
	KindDirectory
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindDentry:
		return "dentry"
	case KindInode:
		return "inode"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Hook receives change notifications for buddy-mirrored records. Paths are
// record store paths relative to the metadata root.
//
// Implementations must be safe for concurrent use and must not block for
// long: they run on the caller's goroutine.
type Hook interface {
	OnModify(ctx context.Context, path string, kind Kind)
	OnDelete(ctx context.Context, path string, kind Kind)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) OnModify(context.Context, string, Kind) {}
func (Nop) OnDelete(context.Context, string, Kind) {}

// Logging writes every notification to the debug log. Useful while no
// mirroring component is attached.
type Logging struct{}

func (Logging) OnModify(ctx context.Context, path string, kind Kind) {
	logger.DebugCtx(ctx, "Mirrored record modified", logger.Path(path), logger.RecordKind(kind.String()))
}

func (Logging) OnDelete(ctx context.Context, path string, kind Kind) {
	logger.DebugCtx(ctx, "Mirrored record deleted", logger.Path(path), logger.RecordKind(kind.String()))
}

// Event is a notification captured by a Recorder.
type Event struct {
	Deleted bool
	Path    string
	Kind    Kind
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) OnModify(_ context.Context, path string, kind Kind) {
	r.add(Event{Path: path, Kind: kind})
}

func (r *Recorder) OnDelete(_ context.Context, path string, kind Kind) {
	r.add(Event{Deleted: true, Path: path, Kind: kind})
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded notifications in call order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many notifications for path were recorded.
func (r *Recorder) Count(path string, deleted bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.events {
		if e.Path == path && e.Deleted == deleted {
			n++
		}
	}
	return n
}

// Reset drops all recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
