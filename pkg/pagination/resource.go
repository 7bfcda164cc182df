package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/pagestore/pkg/registry"
	"github.com/rs/zerolog"
)

// FetchRequest is passed to a resource's fetch function.
type FetchRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`

	// Args is the instance's argument value; nil when the instance has none.
	Args any `json:"args,omitempty"`
}

// Page is one page of results returned by a fetch function.
type Page[T any] struct {
	// Total is the number of items in the whole dataset for these arguments.
	Total int `json:"total"`

	// Data holds the items of the requested page.
	Data []T `json:"data"`
}

// FetchFunc fetches one page. It must be safe to call repeatedly with the same
// request and should report a stable Total for a stable dataset.
type FetchFunc[T any] func(ctx context.Context, req FetchRequest) (Page[T], error)

// Options configure a resource. They are fixed once the resource is created.
type Options struct {
	// Prefetch loads the page after an instance's current page once a load completes.
	Prefetch bool

	// CacheCapacity is the number of unbound partitions an eviction sweep
	// keeps. Sweeps only run once the partition count, default partition
	// included, exceeds it. Zero means 20.
	CacheCapacity int

	// MaxConcurrency bounds parallel fetches within one batch. Zero means 4.
	MaxConcurrency int

	// MaxPageSize rejects instances and ranges with a larger page size.
	// Zero means no limit.
	MaxPageSize int

	// MaxRangePages rejects ranges spanning more pages. Zero means no limit.
	MaxRangePages int
}

// DefaultOptions returns the default resource options.
func DefaultOptions() Options {
	return Options{
		Prefetch:       false,
		CacheCapacity:  20,
		MaxConcurrency: DefaultBatchConfig().MaxConcurrency,
	}
}

// admit checks cfg against the page size and range limits.
func (o Options) admit(cfg InstanceConfig) error {
	if o.MaxPageSize > 0 && cfg.PageSize > o.MaxPageSize {
		return fmt.Errorf("%w: page size %d exceeds %d", ErrInvalidConfig, cfg.PageSize, o.MaxPageSize)
	}
	if first, last := cfg.pages(); o.MaxRangePages > 0 && last-first+1 > o.MaxRangePages {
		return fmt.Errorf("%w: range of %d pages exceeds %d", ErrInvalidConfig, last-first+1, o.MaxRangePages)
	}
	return nil
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = d.CacheCapacity
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = d.MaxConcurrency
	}
	return o
}

type instanceState[T any] struct {
	cfg        InstanceConfig
	generation uint64
	lastGood   []T
}

// Resource is a named, independently cached paginated dataset.
//
// All fetches of a resource pass through a single-flight gate: at most one
// batch is in flight, and every operation that may fetch first waits for the
// gate and then re-evaluates what is missing. Registry and instance state are
// guarded by mu, which is never held across a fetch.
type Resource[T any] struct {
	name   string
	opts   Options
	host   *Store
	fetch  FetchFunc[T]
	batch  *BatchFetcher[T]
	logger zerolog.Logger

	gate chan struct{}

	mu        sync.Mutex
	registry  *registry.Store[T]
	instances map[InstanceID]*instanceState[T]

	bg sync.WaitGroup
}

func newResource[T any](host *Store, name string, fetch FetchFunc[T], opts Options) *Resource[T] {
	opts = opts.withDefaults()
	logger := host.logger.With().Str("resource", name).Logger()

	r := &Resource[T]{
		name:      name,
		opts:      opts,
		host:      host,
		logger:    logger,
		gate:      make(chan struct{}, 1),
		registry:  registry.New[T](),
		instances: make(map[InstanceID]*instanceState[T]),
	}
	r.fetch = fetch
	r.batch = NewBatchFetcher(r.instrumentedFetch, BatchConfig{MaxConcurrency: opts.MaxConcurrency}, logger)
	partitionsGauge.WithLabelValues(name).Set(1)
	return r
}

// acquire takes the single-flight token, waiting for any in-flight batch.
func (r *Resource[T]) acquire(ctx context.Context) error {
	start := time.Now()
	select {
	case r.gate <- struct{}{}:
		gateWait.WithLabelValues(r.name).Observe(time.Since(start).Seconds())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Resource[T]) release() {
	<-r.gate
}

func (r *Resource[T]) instrumentedFetch(ctx context.Context, req FetchRequest) (Page[T], error) {
	start := time.Now()
	page, err := r.fetch(ctx, req)
	fetchDuration.WithLabelValues(r.name).Observe(time.Since(start).Seconds())
	if err != nil {
		fetchesTotal.WithLabelValues(r.name, "error").Inc()
		r.logger.Warn().Err(err).Int("page", req.Page).Int("page_size", req.PageSize).Msg("Page fetch failed")
		return Page[T]{}, &FetchError{Resource: r.name, Page: req.Page, Err: err}
	}
	fetchesTotal.WithLabelValues(r.name, "ok").Inc()
	return page, nil
}

type fillResult int

const (
	fillHit fillResult = iota
	fillFetched
	fillDeferred
)

// missingPagesLocked returns the pages of cfg's range that are not fully cached.
func (r *Resource[T]) missingPagesLocked(cfg InstanceConfig) []int {
	p := r.registry.GetOrCreate(cfg.RegistryKey)
	first, last := cfg.pages()

	var missing []int
	for page := first; page <= last; page++ {
		if !p.Known() {
			missing = append(missing, page)
			continue
		}
		start := (page - 1) * cfg.PageSize
		if !p.Complete(start, start+cfg.PageSize) {
			missing = append(missing, page)
		}
	}
	return missing
}

// fill fetches whatever cfg's range is missing. The caller holds the gate and
// commits the returned merge mutations once it has released it.
func (r *Resource[T]) fill(ctx context.Context, cfg InstanceConfig) (fillResult, []Mutation, error) {
	r.mu.Lock()
	missing := r.missingPagesLocked(cfg)
	r.mu.Unlock()

	if len(missing) == 0 {
		cacheHits.WithLabelValues(r.name).Inc()
		return fillHit, nil, nil
	}
	if cfg.argsUnavailable() {
		r.logger.Debug().Str("instance", string(cfg.ID)).Msg("Arguments unavailable, load deferred")
		return fillDeferred, nil, nil
	}
	cacheMisses.WithLabelValues(r.name).Inc()

	r.logger.Debug().
		Str("registry_key", string(cfg.RegistryKey)).
		Ints("pages", missing).
		Msg("Fetching missing pages")

	merged := r.fetchPages(ctx, cfg, missing)
	return fillFetched, merged.events, merged.err
}

type mergeBatch struct {
	events []Mutation
	err    error
}

// fetchPages fetches pages for cfg and merges every successful result.
func (r *Resource[T]) fetchPages(ctx context.Context, cfg InstanceConfig, pages []int) mergeBatch {
	var out mergeBatch
	base := FetchRequest{PageSize: cfg.PageSize, Args: cfg.Args}
	out.err = r.batch.FetchPages(ctx, base, pages, func(res PageResult[T]) {
		if res.Error != nil {
			return
		}
		out.events = append(out.events, r.mergePage(cfg.RegistryKey, cfg.PageSize, res))
	})
	return out
}

// mergePage writes one fetched page into the registry, resetting the
// partition first when the reported total disagrees with its length. The
// returned mutation must be committed after the gate is released.
func (r *Resource[T]) mergePage(key registry.Key, pageSize int, res PageResult[T]) Mutation {
	total := max(res.Page.Total, 0)
	offset := (res.PageNumber - 1) * pageSize

	r.mu.Lock()
	p := r.registry.GetOrCreate(key)
	if !p.Known() || p.Len() != total {
		if p.Known() {
			r.logger.Debug().
				Str("registry_key", string(key)).
				Int("old_total", p.Len()).
				Int("new_total", total).
				Msg("Total changed, partition reset")
		}
		r.registry.Replace(key, total)
	}
	written := r.registry.Merge(key, offset, res.Page.Data)
	partitionsGauge.WithLabelValues(r.name).Set(float64(r.registry.Len()))
	r.mu.Unlock()

	return Mutation{
		Resource: r.name,
		Type:     EventItemsMerged,
		Payload: MergeEvent{
			RegistryKey: key,
			Page:        res.PageNumber,
			Offset:      offset,
			Count:       written,
			Total:       total,
		},
	}
}

// commitAll delivers mutations collected while the gate was held.
func (r *Resource[T]) commitAll(ms []Mutation) {
	for _, m := range ms {
		r.host.commit(m)
	}
}

// ensureLoaded makes the instance's current range available, then marks the
// instance as loaded and prefetches the following page if enabled.
func (r *Resource[T]) ensureLoaded(ctx context.Context, id InstanceID) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	st, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		r.release()
		return ErrUnknownInstance
	}
	cfg, gen := st.cfg, st.generation
	r.mu.Unlock()

	res, merged, err := r.fill(ctx, cfg)
	r.release()
	r.commitAll(merged)
	if err != nil {
		return err
	}
	if res == fillDeferred {
		return nil
	}

	r.markLoaded(id, gen)

	if r.opts.Prefetch {
		r.prefetchNext(ctx, id)
	}
	return nil
}

// markLoaded clears the loading flag unless a newer trigger superseded gen.
func (r *Resource[T]) markLoaded(id InstanceID, gen uint64) {
	r.mu.Lock()
	st, ok := r.instances[id]
	if !ok || st.generation != gen || !st.cfg.Loading {
		r.mu.Unlock()
		return
	}
	st.cfg.Loading = false
	cfg := st.cfg
	r.mu.Unlock()

	r.commitConfig(cfg)
}

// prefetchNext fetches the page following the instance's current page or
// range when it is inside the dataset and not cached yet. Failures are logged
// and not returned; nobody is waiting on a prefetch.
func (r *Resource[T]) prefetchNext(ctx context.Context, id InstanceID) {
	if err := r.acquire(ctx); err != nil {
		return
	}

	r.mu.Lock()
	st, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		r.release()
		return
	}
	cfg := st.cfg
	_, last := cfg.pages()
	next := last + 1
	start := (next - 1) * cfg.PageSize
	p := r.registry.GetOrCreate(cfg.RegistryKey)
	skip := start >= p.Len() || p.Complete(start, start+cfg.PageSize) || cfg.argsUnavailable()
	r.mu.Unlock()

	if skip {
		r.release()
		return
	}

	prefetchesTotal.WithLabelValues(r.name).Inc()
	r.logger.Debug().Str("instance", string(id)).Int("page", next).Msg("Prefetching next page")

	merged := r.fetchPages(ctx, cfg, []int{next})
	r.release()
	r.commitAll(merged.events)

	if merged.err != nil && !errors.Is(merged.err, context.Canceled) {
		r.logger.Warn().Err(merged.err).Int("page", next).Msg("Prefetch failed")
	}
}

func (r *Resource[T]) commitConfig(cfg InstanceConfig) {
	r.host.commit(Mutation{
		Resource: r.name,
		Type:     EventInstanceConfigChanged,
		Payload:  cfg,
	})
}

// spawn runs fn in the background, tracked by Wait.
func (r *Resource[T]) spawn(fn func()) {
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		fn()
	}()
}
