package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"fintrack/internal/core"
)

// Loader reads the current snapshot of a subscribed path.
type Loader func(ctx context.Context, path string) (Snapshot, error)

// Hub fans committed changes out to subscribers. Writers call Notify with
// the paths they touched; a single dispatcher goroutine reloads each
// affected subscription path and delivers the fresh snapshot, so every
// subscriber sees snapshots in commit order and the last delivery always
// reflects the last commit.
type Hub struct {
	load   Loader
	logger *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	subs    map[string]map[uint64]*listener
	pending map[string]struct{}
	closed  bool

	wake chan struct{}
	done chan struct{}
	exit chan struct{}
}

type listener struct {
	mu       sync.Mutex
	active   bool
	onChange ChangeFunc
	onError  ErrorFunc
}

func NewHub(load Loader, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		load:    load,
		logger:  logger,
		subs:    make(map[string]map[uint64]*listener),
		pending: make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exit:    make(chan struct{}),
	}
	go h.run()
	return h
}

// Subscribe registers a listener and schedules delivery of the current snapshot.
func (h *Hub) Subscribe(ctx context.Context, path string, onChange ChangeFunc, onError ErrorFunc) (Unsubscribe, error) {
	clean, err := Clean(path)
	if err != nil {
		return nil, err
	}
	if onChange == nil {
		return nil, fmt.Errorf("subscribe %s: onChange is required", clean)
	}

	l := &listener{active: true, onChange: onChange, onError: onError}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.nextID++
	id := h.nextID
	if h.subs[clean] == nil {
		h.subs[clean] = make(map[uint64]*listener)
	}
	h.subs[clean][id] = l
	h.pending[clean] = struct{}{}
	h.mu.Unlock()
	h.signal()

	var once sync.Once
	remove := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[clean], id)
			if len(h.subs[clean]) == 0 {
				delete(h.subs, clean)
			}
			h.mu.Unlock()

			// Waits for an in-flight delivery to finish.
			l.mu.Lock()
			l.active = false
			l.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, remove)
	return func() {
		stop()
		remove()
	}, nil
}

// Notify schedules redelivery for every subscription affected by changes
// to paths. A document change affects the document and its collection; a
// collection change affects the collection and every document in it.
func (h *Hub) Notify(paths ...string) {
	h.mu.Lock()
	queued := false
	for _, p := range paths {
		clean, err := Clean(p)
		if err != nil {
			continue
		}
		for _, target := range h.affected(clean) {
			if _, ok := h.subs[target]; ok {
				h.pending[target] = struct{}{}
				queued = true
			}
		}
	}
	h.mu.Unlock()
	if queued {
		h.signal()
	}
}

// affected must be called with h.mu held.
func (h *Hub) affected(path string) []string {
	if IsDocument(path) {
		coll, _, _ := Split(path)
		return []string{path, coll}
	}
	out := []string{path}
	for sub := range h.subs {
		if IsDocument(sub) {
			if coll, _, _ := Split(sub); coll == path {
				out = append(out, sub)
			}
		}
	}
	return out
}

func (h *Hub) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Hub) run() {
	defer close(h.exit)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-h.done
		cancel()
	}()

	for {
		select {
		case <-h.done:
			return
		case <-h.wake:
		}

		h.mu.Lock()
		batch := h.pending
		h.pending = make(map[string]struct{})
		h.mu.Unlock()

		for path := range batch {
			h.dispatch(ctx, path)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, path string) {
	h.mu.Lock()
	targets := make([]*listener, 0, len(h.subs[path]))
	for _, l := range h.subs[path] {
		targets = append(targets, l)
	}
	h.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	snap, err := h.load(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.logger.WarnContext(ctx, "Subscription reload failed", "path", path, "error", err)
		err = fmt.Errorf("%w: %s: %w", core.ErrRemoteSubscription, path, err)
	}

	for _, l := range targets {
		l.mu.Lock()
		if l.active {
			if err != nil {
				if l.onError != nil {
					l.onError(err)
				}
			} else {
				l.onChange(snap)
			}
		}
		l.mu.Unlock()
	}
}

// Close stops the dispatcher. Pending deliveries are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	close(h.done)
	<-h.exit
}
