package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/pushgate/internal/registry"
	"github.com/rickgao/pushgate/internal/transport"
)

// fakeSender classifies pushes per connection id.
type fakeSender struct {
	mu        sync.Mutex
	gone      map[string]bool
	transient map[string]bool
	delay     time.Duration
	posted    map[string]int

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		gone:      make(map[string]bool),
		transient: make(map[string]bool),
		posted:    make(map[string]int),
	}
}

func (s *fakeSender) Post(ctx context.Context, id string, payload []byte) error {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxInFlight.Load()
		if cur <= max || s.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return &transport.TransientError{Err: ctx.Err()}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.posted[id]++

	if s.gone[id] {
		return transport.ErrGone
	}
	if s.transient[id] {
		return &transport.TransientError{Err: errors.New("throttled")}
	}
	return nil
}

func (s *fakeSender) postedTo(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posted[id]
}

func seedRegistry(t *testing.T, ids ...string) *registry.MemoryRegistry {
	t.Helper()
	r := registry.NewMemoryRegistry()
	for _, id := range ids {
		if err := r.Put(context.Background(), registry.Connection{ID: id, ConnectedAt: time.Now()}); err != nil {
			t.Fatalf("seed Put %s failed: %v", id, err)
		}
	}
	return r
}

func registryIDs(t *testing.T, r registry.Registry) map[string]bool {
	t.Helper()
	conns, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	ids := make(map[string]bool, len(conns))
	for _, c := range conns {
		ids[c.ID] = true
	}
	return ids
}

func TestBroadcast_AllDelivered(t *testing.T) {
	reg := seedRegistry(t, "c1", "c2", "c3")
	sender := newFakeSender()
	b := New(DefaultConfig(), reg, sender, nil, nil)

	result, err := b.Broadcast(context.Background(), []byte(`{"text":"hi"}`), "")
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if result.Delivered != 3 || result.Pruned != 0 || result.Failed != 0 {
		t.Errorf("result = %+v, want {Delivered:3 Pruned:0 Failed:0}", result)
	}
}

func TestBroadcast_GonePrunesRegistry(t *testing.T) {
	reg := seedRegistry(t, "c1", "c2", "c3")
	sender := newFakeSender()
	sender.gone["c2"] = true
	b := New(DefaultConfig(), reg, sender, nil, nil)

	result, err := b.Broadcast(context.Background(), []byte(`{"text":"hi"}`), "")
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if result.Delivered != 2 || result.Pruned != 1 {
		t.Errorf("result = %+v, want {Delivered:2 Pruned:1}", result)
	}

	ids := registryIDs(t, reg)
	if ids["c2"] {
		t.Error("c2 still in registry after GONE push")
	}
	if !ids["c1"] || !ids["c3"] {
		t.Errorf("registry = %v, want c1 and c3 present", ids)
	}
}

func TestBroadcast_ManyGone(t *testing.T) {
	const n, m = 20, 7
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, fmt.Sprintf("c%d", i))
	}
	reg := seedRegistry(t, ids...)
	sender := newFakeSender()
	for i := 0; i < m; i++ {
		sender.gone[fmt.Sprintf("c%d", i)] = true
	}
	b := New(DefaultConfig(), reg, sender, nil, nil)

	result, err := b.Broadcast(context.Background(), []byte("x"), "")
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if result.Delivered != n-m {
		t.Errorf("Delivered = %d, want %d", result.Delivered, n-m)
	}
	if result.Pruned != m {
		t.Errorf("Pruned = %d, want %d", result.Pruned, m)
	}

	if remaining := len(registryIDs(t, reg)); remaining != n-m {
		t.Errorf("registry size = %d, want %d", remaining, n-m)
	}
}

func TestBroadcast_ExcludesSender(t *testing.T) {
	reg := seedRegistry(t, "c1", "c2", "c3")
	sender := newFakeSender()
	b := New(DefaultConfig(), reg, sender, nil, nil)

	result, err := b.Broadcast(context.Background(), []byte("x"), "c2")
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if result.Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", result.Delivered)
	}
	if sender.postedTo("c2") != 0 {
		t.Errorf("excluded connection received %d pushes, want 0", sender.postedTo("c2"))
	}
}

func TestBroadcast_TransientDoesNotPrune(t *testing.T) {
	reg := seedRegistry(t, "c1", "c2")
	sender := newFakeSender()
	sender.transient["c1"] = true
	b := New(DefaultConfig(), reg, sender, nil, nil)

	result, err := b.Broadcast(context.Background(), []byte("x"), "")
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if result.Delivered != 1 || result.Failed != 1 || result.Pruned != 0 {
		t.Errorf("result = %+v, want {Delivered:1 Pruned:0 Failed:1}", result)
	}

	// Transient failures never mutate the registry.
	if len(registryIDs(t, reg)) != 2 {
		t.Error("registry changed after transient failure")
	}

	// And no automatic retry: exactly one push for the failed target.
	if sender.postedTo("c1") != 1 {
		t.Errorf("pushes to c1 = %d, want 1", sender.postedTo("c1"))
	}
}

func TestBroadcast_TimeoutIsTransientNotGone(t *testing.T) {
	reg := seedRegistry(t, "c1")
	sender := newFakeSender()
	sender.delay = 200 * time.Millisecond

	cfg := DefaultConfig()
	cfg.PushTimeout = 20 * time.Millisecond
	b := New(cfg, reg, sender, nil, nil)

	result, err := b.Broadcast(context.Background(), []byte("x"), "")
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if result.Failed != 1 || result.Pruned != 0 {
		t.Errorf("result = %+v, want timed-out push counted as transient", result)
	}
	if len(registryIDs(t, reg)) != 1 {
		t.Error("timed-out recipient was pruned")
	}
}

func TestBroadcast_EmptyRegistry(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	b := New(DefaultConfig(), reg, newFakeSender(), nil, nil)

	result, err := b.Broadcast(context.Background(), []byte("x"), "")
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if result != (Result{}) {
		t.Errorf("result = %+v, want zero", result)
	}
}

func TestBroadcast_BoundedConcurrency(t *testing.T) {
	ids := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		ids = append(ids, fmt.Sprintf("c%d", i))
	}
	reg := seedRegistry(t, ids...)

	sender := newFakeSender()
	sender.delay = 20 * time.Millisecond

	cfg := DefaultConfig()
	cfg.Concurrency = 2
	b := New(cfg, reg, sender, nil, nil)

	if _, err := b.Broadcast(context.Background(), []byte("x"), ""); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if max := sender.maxInFlight.Load(); max > 2 {
		t.Errorf("max in-flight pushes = %d, want <= 2", max)
	}
}

func TestBroadcast_ListFailureSurfaces(t *testing.T) {
	sender := newFakeSender()
	b := New(DefaultConfig(), failingRegistry{}, sender, nil, nil)

	_, err := b.Broadcast(context.Background(), []byte("x"), "")
	var storeErr *registry.StoreError
	if !errors.As(err, &storeErr) {
		t.Errorf("Broadcast error = %v, want StoreError", err)
	}
}

func TestBroadcast_HungListIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RegistryTimeout = 50 * time.Millisecond
	b := New(cfg, &hangingRegistry{}, newFakeSender(), nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := b.Broadcast(context.Background(), []byte("x"), "")
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Broadcast returned nil error from a hung snapshot read")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast still blocked; registry List must carry a bounded timeout")
	}
}

func TestBroadcast_HungPruneDeleteIsBounded(t *testing.T) {
	reg := &hangingRegistry{
		conns: []registry.Connection{{ID: "c1", ConnectedAt: time.Now()}},
	}
	sender := newFakeSender()
	sender.gone["c1"] = true

	cfg := DefaultConfig()
	cfg.RegistryTimeout = 50 * time.Millisecond
	b := New(cfg, reg, sender, nil, nil)

	done := make(chan Result, 1)
	go func() {
		result, _ := b.Broadcast(context.Background(), []byte("x"), "")
		done <- result
	}()

	select {
	case result := <-done:
		// The prune attempt timed out; the push outcome still counts.
		if result.Pruned != 1 {
			t.Errorf("Pruned = %d, want 1", result.Pruned)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast still blocked; prune Delete must carry a bounded timeout")
	}
}

// hangingRegistry blocks every call until its context is cancelled. List
// returns the seeded snapshot only when conns is set and the block is on
// Delete instead.
type hangingRegistry struct {
	conns []registry.Connection
}

func (r *hangingRegistry) Put(ctx context.Context, conn registry.Connection) error { return nil }

func (r *hangingRegistry) Delete(ctx context.Context, id string) error {
	<-ctx.Done()
	return &registry.StoreError{Op: "delete", Err: ctx.Err()}
}

func (r *hangingRegistry) List(ctx context.Context) ([]registry.Connection, error) {
	if r.conns != nil {
		return r.conns, nil
	}
	<-ctx.Done()
	return nil, &registry.StoreError{Op: "list", Err: ctx.Err()}
}

// failingRegistry fails every snapshot read.
type failingRegistry struct{}

func (failingRegistry) Put(ctx context.Context, conn registry.Connection) error { return nil }
func (failingRegistry) Delete(ctx context.Context, id string) error             { return nil }
func (failingRegistry) List(ctx context.Context) ([]registry.Connection, error) {
	return nil, &registry.StoreError{Op: "list", Err: errors.New("backend down")}
}
