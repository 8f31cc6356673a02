package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/gray-logic-node/internal/storage"
)

// Logger is the logging interface used by the buffer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// snapshotEncMode keeps nanosecond timestamps so checksums survive a round trip.
var snapshotEncMode, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode() //nolint:errcheck // static options

// Buffer is a fixed-capacity FIFO of readings. When full, Add overwrites the
// oldest unread entry and raises the data-loss flag.
type Buffer struct {
	mu       sync.Mutex
	entries  []Reading
	head     int
	count    int
	dataLoss bool

	store  storage.Store
	logger Logger
}

type snapshot struct {
	Capacity int       `cbor:"1,keyasint"`
	DataLoss bool      `cbor:"2,keyasint"`
	Entries  []Reading `cbor:"3,keyasint"`
}

// New creates a buffer. A capacity below one leaves it uninitialised.
func New(capacity int) *Buffer {
	b := &Buffer{logger: noopLogger{}}
	if capacity > 0 {
		b.entries = make([]Reading, capacity)
	}
	return b
}

// SetLogger sets the logger.
func (b *Buffer) SetLogger(l Logger) {
	b.mu.Lock()
	b.logger = l
	b.mu.Unlock()
}

// SetStore sets the collaborator used by Persist and Restore.
func (b *Buffer) SetStore(s storage.Store) {
	b.mu.Lock()
	b.store = s
	b.mu.Unlock()
}

// Init discards all entries and resizes the buffer.
func (b *Buffer) Init(capacity int) error {
	if capacity < 1 {
		return ErrInvalidCapacity
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make([]Reading, capacity)
	b.head, b.count, b.dataLoss = 0, 0, false
	return nil
}

// Add stores r with a fresh checksum.
func (b *Buffer) Add(r Reading) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return ErrNotInitialized
	}
	r.Checksum = r.ComputeChecksum()
	b.push(r)
	return nil
}

func (b *Buffer) push(r Reading) {
	capacity := len(b.entries)
	if b.count == capacity {
		b.entries[b.head] = r
		b.head = (b.head + 1) % capacity
		if !b.dataLoss {
			b.logger.Warn("offline buffer full, overwriting oldest readings", "capacity", capacity)
		}
		b.dataLoss = true
		return
	}
	b.entries[(b.head+b.count)%capacity] = r
	b.count++
}

// Peek returns the oldest entry without removing it. A corrupt entry is
// reported as ErrIntegrity and left in place.
func (b *Buffer) Peek() (Reading, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return Reading{}, ErrEmpty
	}
	r := b.entries[b.head]
	if !r.Verify() {
		return Reading{}, fmt.Errorf("%w: gpio %d at %s", ErrIntegrity, r.GPIO, r.Timestamp.Format(time.RFC3339))
	}
	return r, nil
}

// Discard drops the oldest entry.
func (b *Buffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discard()
}

func (b *Buffer) discard() {
	if b.count == 0 {
		return
	}
	b.entries[b.head] = Reading{}
	b.head = (b.head + 1) % len(b.entries)
	b.count--
}

// Next removes and returns the oldest entry. A corrupt entry is removed and
// reported as ErrIntegrity so the reader can continue with the next one.
func (b *Buffer) Next() (Reading, error) {
	r, err := b.Peek()
	if err != nil && !errors.Is(err, ErrIntegrity) {
		return Reading{}, err
	}
	b.Discard()
	return r, err
}

// Count returns the number of unread entries.
func (b *Buffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Capacity returns the maximum number of entries.
func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// FillPercentage returns Count as a percentage of Capacity.
func (b *Buffer) FillPercentage() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return 0
	}
	return float64(b.count) * 100 / float64(len(b.entries))
}

// DataLoss reports whether an unread entry was overwritten since the last Clear.
func (b *Buffer) DataLoss() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dataLoss
}

// Clear drops all entries and resets the data-loss flag.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.entries {
		b.entries[i] = Reading{}
	}
	b.head, b.count, b.dataLoss = 0, 0, false
}

// Persist writes the unread entries to the store. It is a no-op without a store.
func (b *Buffer) Persist(ctx context.Context) error {
	b.mu.Lock()
	store := b.store
	snap := snapshot{Capacity: len(b.entries), DataLoss: b.dataLoss, Entries: make([]Reading, 0, b.count)}
	for i := 0; i < b.count; i++ {
		snap.Entries = append(snap.Entries, b.entries[(b.head+i)%len(b.entries)])
	}
	b.mu.Unlock()

	if store == nil {
		return nil
	}
	data, err := snapshotEncMode.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding buffer snapshot: %w", err)
	}
	if err := store.Save(ctx, storage.KeyBufferSnapshot, data); err != nil {
		return fmt.Errorf("saving buffer snapshot: %w", err)
	}
	return nil
}

// Restore appends a persisted snapshot to the buffer and deletes it from the
// store. Checksums are carried over unchanged, so entries corrupted at rest
// surface as ErrIntegrity on read. A missing snapshot is not an error.
func (b *Buffer) Restore(ctx context.Context) error {
	b.mu.Lock()
	store, logger := b.store, b.logger
	b.mu.Unlock()
	if store == nil {
		return nil
	}

	data, err := store.Load(ctx, storage.KeyBufferSnapshot)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading buffer snapshot: %w", err)
	}
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding buffer snapshot: %w", err)
	}

	b.mu.Lock()
	if len(b.entries) == 0 {
		b.mu.Unlock()
		return ErrNotInitialized
	}
	for _, r := range snap.Entries {
		b.push(r)
	}
	if snap.DataLoss {
		b.dataLoss = true
	}
	restored := b.count
	b.mu.Unlock()

	logger.Info("offline buffer restored", "entries", len(snap.Entries), "count", restored)
	return store.Delete(ctx, storage.KeyBufferSnapshot)
}
