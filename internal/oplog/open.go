package oplog

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/oplog/internal/model"
)

// OpenOplogs is the registry of live oplogs of one service. It guarantees
// at most one underlying oplog per worker: concurrent opens share a single
// construction through singleflight and receive handles onto the same
// instance. The underlying oplog is closed when its last handle closes.
type OpenOplogs struct {
	mu    sync.Mutex
	open  map[string]*openOplog
	group singleflight.Group
}

type openOplog struct {
	oplog Oplog
	refs  int
}

// Constructor builds the underlying oplog of a worker. onClose must be run
// exactly once when the oplog is closed; it deregisters the oplog.
type Constructor func(ctx context.Context, onClose func()) (Oplog, error)

// NewOpenOplogs creates an empty registry.
func NewOpenOplogs() *OpenOplogs {
	return &OpenOplogs{open: make(map[string]*openOplog)}
}

// GetOrOpen returns a handle onto the live oplog of owned, constructing it
// with construct if none is open.
func (o *OpenOplogs) GetOrOpen(ctx context.Context, owned model.OwnedWorkerID, construct Constructor) (Oplog, error) {
	key := owned.String()
	for {
		o.mu.Lock()
		if entry, ok := o.open[key]; ok {
			entry.refs++
			o.mu.Unlock()
			return o.newHandle(key, entry), nil
		}
		o.mu.Unlock()

		v, err, _ := o.group.Do(key, func() (any, error) {
			o.mu.Lock()
			if entry, ok := o.open[key]; ok {
				o.mu.Unlock()
				return entry, nil
			}
			o.mu.Unlock()

			entry := &openOplog{}
			oplog, err := construct(ctx, func() { o.remove(key, entry) })
			if err != nil {
				return nil, err
			}
			entry.oplog = oplog

			o.mu.Lock()
			o.open[key] = entry
			o.mu.Unlock()
			return entry, nil
		})
		if err != nil {
			return nil, err
		}

		entry := v.(*openOplog)
		o.mu.Lock()
		if o.open[key] != entry {
			// Closed between construction and now; start over.
			o.mu.Unlock()
			continue
		}
		entry.refs++
		o.mu.Unlock()
		return o.newHandle(key, entry), nil
	}
}

// Len returns the number of open oplogs.
func (o *OpenOplogs) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.open)
}

// IsOpen reports whether owned has a live oplog.
func (o *OpenOplogs) IsOpen(owned model.OwnedWorkerID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.open[owned.String()]
	return ok
}

func (o *OpenOplogs) remove(key string, entry *openOplog) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.open[key] == entry {
		delete(o.open, key)
	}
}

func (o *OpenOplogs) release(key string, entry *openOplog) error {
	o.mu.Lock()
	entry.refs--
	last := entry.refs <= 0
	if last && o.open[key] == entry {
		delete(o.open, key)
	}
	o.mu.Unlock()

	if last {
		return entry.oplog.Close()
	}
	return nil
}

func (o *OpenOplogs) newHandle(key string, entry *openOplog) Oplog {
	return &handle{
		Oplog:   entry.oplog,
		release: func() error { return o.release(key, entry) },
	}
}

// handle is one caller's reference to a shared oplog.
type handle struct {
	Oplog
	release func() error
	once    sync.Once
}

func (h *handle) Close() error {
	var err error
	h.once.Do(func() { err = h.release() })
	return err
}

// Unwrap returns the shared oplog behind the handle.
func (h *handle) Unwrap() Oplog {
	return h.Oplog
}

// Underlying strips registry handles from o.
func Underlying(o Oplog) Oplog {
	for {
		h, ok := o.(interface{ Unwrap() Oplog })
		if !ok {
			return o
		}
		o = h.Unwrap()
	}
}
