package worker

import (
	"sync"
	"sync/atomic"
)

// Budget enforces the completion limit, counted in stored documents or in
// stored bytes. A worker reserves room before writing, commits it on success
// and releases it on failure, so concurrent workers never overshoot the
// document limit. The byte limit is checked before each write, so the
// document that crosses it is still stored.
type Budget struct {
	maxDocs  int64
	maxBytes int64

	mu            sync.Mutex
	reservedDocs  int64
	reservedBytes int64
	stored        atomic.Int64
	storedBytes   atomic.Int64
	exhausted     atomic.Bool

	onReached func()
	once      sync.Once
}

// NewBudget returns a Budget for maxDocuments documents or maxBytes bytes.
// Values <= 0 disable the corresponding limit. onReached runs once, on the
// commit that hits a limit.
func NewBudget(maxDocuments int, maxBytes int64, onReached func()) *Budget {
	b := &Budget{onReached: onReached}
	if maxDocuments > 0 {
		b.maxDocs = int64(maxDocuments)
	}
	if maxBytes > 0 {
		b.maxBytes = maxBytes
	}
	return b
}

// Reserve claims room for a document of size bytes and reports whether the
// budget allows the write.
func (b *Budget) Reserve(size int64) bool {
	if b.exhausted.Load() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxDocs > 0 && b.reservedDocs >= b.maxDocs {
		return false
	}
	if b.maxBytes > 0 && b.reservedBytes >= b.maxBytes {
		return false
	}
	b.reservedDocs++
	b.reservedBytes += size
	return true
}

// Release returns a reservation after a failed write.
func (b *Budget) Release(size int64) {
	b.mu.Lock()
	b.reservedDocs--
	b.reservedBytes -= size
	b.mu.Unlock()
}

// Commit records a stored document of size bytes.
func (b *Budget) Commit(size int64) {
	docs := b.stored.Add(1)
	total := b.storedBytes.Add(size)
	if (b.maxDocs > 0 && docs >= b.maxDocs) || (b.maxBytes > 0 && total >= b.maxBytes) {
		b.exhausted.Store(true)
		if b.onReached != nil {
			b.once.Do(b.onReached)
		}
	}
}

// Exhausted reports whether a limit has been reached. Once true it stays true.
func (b *Budget) Exhausted() bool {
	return b.exhausted.Load()
}

// Stored returns the number of committed documents.
func (b *Budget) Stored() int64 {
	return b.stored.Load()
}

// StoredBytes returns the committed document bytes.
func (b *Budget) StoredBytes() int64 {
	return b.storedBytes.Load()
}

// Limit returns the document limit; 0 means unlimited.
func (b *Budget) Limit() int64 {
	return b.maxDocs
}

// ByteLimit returns the byte limit; 0 means unlimited.
func (b *Budget) ByteLimit() int64 {
	return b.maxBytes
}
