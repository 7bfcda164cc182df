package pagination

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSource is an in-memory paginated dataset that records every request.
type fakeSource struct {
	mu          sync.Mutex
	items       []string
	byArgs      func(args any) []string
	err         error
	hold        chan struct{}
	calls       []FetchRequest
	inflight    int
	maxInflight int
}

func newFakeSource(total int) *fakeSource {
	return &fakeSource{items: makeItems("item", total)}
}

func makeItems(prefix string, n int) []string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return items
}

func (f *fakeSource) fetch(ctx context.Context, req FetchRequest) (Page[string], error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.inflight++
	f.maxInflight = max(f.maxInflight, f.inflight)
	hold, err, items := f.hold, f.err, f.items
	if f.byArgs != nil {
		items = f.byArgs(req.Args)
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return Page[string]{}, ctx.Err()
		}
	}
	if err != nil {
		return Page[string]{}, err
	}

	start := min((req.Page-1)*req.PageSize, len(items))
	end := min(start+req.PageSize, len(items))
	return Page[string]{Total: len(items), Data: slices.Clone(items[start:end])}, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSource) pagesRequested() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := make([]int, len(f.calls))
	for i, c := range f.calls {
		pages[i] = c.Page
	}
	return pages
}

func (f *fakeSource) setItems(items []string) {
	f.mu.Lock()
	f.items = items
	f.mu.Unlock()
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// holdFetches makes every following fetch block until the returned channel
// is closed.
func (f *fakeSource) holdFetches() chan struct{} {
	hold := make(chan struct{})
	f.mu.Lock()
	f.hold = hold
	f.mu.Unlock()
	return hold
}

func (f *fakeSource) inflightNow() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflight
}

func (f *fakeSource) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}

func newTestStore() *Store {
	return NewStore(WithLogger(zerolog.Nop()))
}

func newTestResource(t *testing.T, src *fakeSource, opts Options) *Controller[string] {
	t.Helper()
	ctrl, err := CreateResource(newTestStore(), "items", src.fetch, opts)
	if err != nil {
		t.Fatalf("CreateResource() error = %v", err)
	}
	return ctrl
}

func mustView(t *testing.T, ctrl *Controller[string], id InstanceID) View[string] {
	t.Helper()
	v, ok := ctrl.Instance(id)
	if !ok {
		t.Fatalf("Instance(%s) not found", id)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
