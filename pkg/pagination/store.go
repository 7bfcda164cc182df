package pagination

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Sternrassler/pagestore/pkg/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// pendingLink is an instance waiting for its resource to be registered.
type pendingLink interface {
	link(resource any)
}

// Store is the application-wide container of resources. Create one at
// startup and pass it to CreateResource and CreateInstance.
//
// It also carries the mutation stream: every state transition of every
// resource is committed here and delivered synchronously to subscribers.
type Store struct {
	logger zerolog.Logger

	mu        sync.Mutex
	resources map[string]any
	pending   map[string][]pendingLink

	subsMu  sync.RWMutex
	subs    map[uint64]func(Mutation)
	nextSub uint64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger resources derive their loggers from.
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		logger:    logging.NewLogger("pagestore"),
		resources: make(map[string]any),
		pending:   make(map[string][]pendingLink),
		subs:      make(map[uint64]func(Mutation)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Subscribe(s.flushPending)
	return s
}

// Subscribe registers fn for every committed mutation and returns a function
// that removes it. fn runs on the committing goroutine. Mutations are never
// committed while a resource's fetch gate is held.
func (s *Store) Subscribe(fn func(Mutation)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Store) commit(m Mutation) {
	s.subsMu.RLock()
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Mutation), len(ids))
	for i, id := range ids {
		fns[i] = s.subs[id]
	}
	s.subsMu.RUnlock()

	for _, fn := range fns {
		fn(m)
	}
}

// flushPending links queued instances once their resource exists.
func (s *Store) flushPending(m Mutation) {
	if m.Type != mutationResourceInitialized {
		return
	}

	s.mu.Lock()
	links := s.pending[m.Resource]
	delete(s.pending, m.Resource)
	res := s.resources[m.Resource]
	s.mu.Unlock()

	for _, l := range links {
		l.link(res)
	}
}

// Resources returns the names of all registered resources.
func (s *Store) Resources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.resources))
	for name := range s.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateResource registers a resource under name. Calling it again with a
// registered name returns the existing controller; fetch and opts of the
// second call are ignored.
func CreateResource[T any](s *Store, name string, fetch FetchFunc[T], opts Options) (*Controller[T], error) {
	if name == "" {
		return nil, fmt.Errorf("resource name is required")
	}
	if fetch == nil {
		return nil, fmt.Errorf("fetch function is required")
	}

	s.mu.Lock()
	if existing, ok := s.resources[name]; ok {
		s.mu.Unlock()
		r, ok := existing.(*Resource[T])
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrResourceType, name)
		}
		return &Controller[T]{r: r}, nil
	}
	r := newResource(s, name, fetch, opts)
	s.resources[name] = r
	s.mu.Unlock()

	r.logger.Info().
		Bool("prefetch", r.opts.Prefetch).
		Int("cache_capacity", r.opts.CacheCapacity).
		Msg("Resource registered")

	s.commit(Mutation{Resource: name, Type: mutationResourceInitialized})
	return &Controller[T]{r: r}, nil
}

// ControllerFor returns the controller of an already registered resource.
func ControllerFor[T any](s *Store, name string) (*Controller[T], error) {
	s.mu.Lock()
	existing, ok := s.resources[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("resource %q not registered", name)
	}
	r, ok := existing.(*Resource[T])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceType, name)
	}
	return &Controller[T]{r: r}, nil
}

// CreateInstance creates a live binding to resource name. If the resource is
// not registered yet, the binding is queued and linked as soon as
// CreateResource is called for that name; until then it reads as defaults.
// The initial load runs in the background (see Controller.Wait).
func CreateInstance[T any](s *Store, name string, opts InstanceOptions) (*Binding[T], error) {
	id := InstanceID(uuid.NewString())
	cfg, err := newInstanceConfig(id, opts)
	if err != nil {
		return nil, err
	}

	b := &Binding[T]{
		id:       id,
		resource: name,
		store:    s,
		mode:     cfg.Mode,
		opts:     opts,
	}

	s.mu.Lock()
	existing, ok := s.resources[name]
	if !ok {
		s.pending[name] = append(s.pending[name], b)
		s.mu.Unlock()
		s.logger.Debug().Str("resource", name).Str("instance", string(id)).Msg("Instance queued until resource is registered")
		return b, nil
	}
	s.mu.Unlock()

	r, ok := existing.(*Resource[T])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceType, name)
	}
	if err := b.attach(r); err != nil {
		return nil, err
	}
	return b, nil
}

// dropPending removes a queued binding that was closed before linking.
func (s *Store) dropPending(name string, l pendingLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	links := s.pending[name]
	for i, candidate := range links {
		if candidate == l {
			s.pending[name] = append(links[:i], links[i+1:]...)
			break
		}
	}
	if len(s.pending[name]) == 0 {
		delete(s.pending, name)
	}
}

// loadInBackground starts the initial load of an attached instance.
func (r *Resource[T]) loadInBackground(id InstanceID) {
	r.spawn(func() {
		ctx := context.Background()
		err := r.ensureLoaded(ctx, id)
		if err == nil {
			err = r.sweep(ctx)
		}
		if err != nil {
			r.logger.Warn().Err(err).Str("instance", string(id)).Msg("Initial load failed")
		}
	})
}
