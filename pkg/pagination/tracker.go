package pagination

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"

	"github.com/google/go-cmp/cmp"
)

// exportAll lets cmp.Equal descend into argument values with unexported fields.
var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

// addInstance registers a new instance without loading it.
func (r *Resource[T]) addInstance(id InstanceID, opts InstanceOptions) (InstanceConfig, error) {
	cfg, err := newInstanceConfig(id, opts)
	if err != nil {
		return InstanceConfig{}, err
	}
	if err := r.opts.admit(cfg); err != nil {
		return InstanceConfig{}, err
	}

	r.mu.Lock()
	if _, exists := r.instances[id]; exists {
		r.mu.Unlock()
		return InstanceConfig{}, fmt.Errorf("%w: instance %s already exists", ErrInvalidConfig, id)
	}
	r.registry.GetOrCreate(cfg.RegistryKey)
	r.instances[id] = &instanceState[T]{cfg: cfg, generation: 1}
	r.mu.Unlock()

	r.logger.Debug().
		Str("instance", string(id)).
		Str("mode", cfg.Mode.String()).
		Str("registry_key", string(cfg.RegistryKey)).
		Msg("Instance created")
	r.commitConfig(cfg)
	return cfg, nil
}

// createInstance registers and loads an instance, then sweeps the cache.
func (r *Resource[T]) createInstance(ctx context.Context, id InstanceID, opts InstanceOptions) error {
	if _, err := r.addInstance(id, opts); err != nil {
		return err
	}
	loadErr := r.ensureLoaded(ctx, id)
	return errors.Join(loadErr, r.sweep(ctx))
}

// updateInstance applies patch to the instance. A patch that leaves the
// configuration unchanged is a no-op. Otherwise the instance is marked
// loading, loaded, and the cache is swept.
func (r *Resource[T]) updateInstance(ctx context.Context, id InstanceID, patch Patch) error {
	r.mu.Lock()
	st, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	next, err := applyPatch(st.cfg, patch)
	if err == nil {
		err = r.opts.admit(next)
	}
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if cmp.Equal(st.cfg, next, exportAll) {
		r.mu.Unlock()
		return nil
	}
	next.Loading = true
	st.cfg = next
	st.generation++
	r.registry.GetOrCreate(next.RegistryKey)
	r.mu.Unlock()

	r.commitConfig(next)

	loadErr := r.ensureLoaded(ctx, id)
	return errors.Join(loadErr, r.sweep(ctx))
}

// removeInstance drops the instance from the tracker. Its partition stays
// cached and becomes eligible for eviction.
func (r *Resource[T]) removeInstance(id InstanceID) bool {
	r.mu.Lock()
	_, ok := r.instances[id]
	delete(r.instances, id)
	r.mu.Unlock()

	if ok {
		r.logger.Debug().Str("instance", string(id)).Msg("Instance removed")
	}
	return ok
}

// project builds the view of an instance. Items never contain unset slots:
// an incomplete range yields the last complete slice seen for the instance,
// or an empty slice.
func (r *Resource[T]) project(id InstanceID) (View[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.instances[id]
	if !ok {
		return View[T]{}, false
	}
	cfg := st.cfg

	start, end := cfg.bounds()
	items, err := r.registry.Slice(cfg.RegistryKey, start, end)
	if err != nil {
		items = slices.Clone(st.lastGood)
		if items == nil {
			items = []T{}
		}
	} else {
		st.lastGood = slices.Clone(items)
	}

	total := 0
	if p, ok := r.registry.Get(cfg.RegistryKey); ok {
		total = p.Len()
	}

	return View[T]{
		Items:      items,
		Mode:       cfg.Mode,
		Page:       cfg.Page,
		PageFrom:   cfg.PageFrom,
		PageTo:     cfg.PageTo,
		PageSize:   cfg.PageSize,
		Total:      total,
		TotalPages: totalPages(total, cfg.PageSize),
		Loading:    cfg.Loading,
	}, true
}

// config returns a copy of the tracked configuration.
func (r *Resource[T]) config(id InstanceID) (InstanceConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.instances[id]
	if !ok {
		return InstanceConfig{}, false
	}
	return st.cfg, true
}

// instanceIDs returns the tracked instance ids in sorted order.
func (r *Resource[T]) instanceIDs() []InstanceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]InstanceID, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// refresh clears every partition and reloads every live instance.
func (r *Resource[T]) refresh(ctx context.Context) error {
	if err := r.acquire(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	for _, key := range r.registry.Keys() {
		r.registry.Clear(key)
	}
	changed := make([]InstanceConfig, 0, len(r.instances))
	for _, st := range r.instances {
		st.cfg.Loading = true
		st.generation++
		changed = append(changed, st.cfg)
	}
	r.mu.Unlock()
	r.release()

	r.logger.Info().Int("instances", len(changed)).Msg("Resource refreshed")
	for _, cfg := range changed {
		r.commitConfig(cfg)
	}

	var errs []error
	for _, id := range r.instanceIDs() {
		if err := r.ensureLoaded(ctx, id); err != nil && !errors.Is(err, ErrUnknownInstance) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fetchRange loads a range without tracking an instance and returns its view.
func (r *Resource[T]) fetchRange(ctx context.Context, opts InstanceOptions) (View[T], error) {
	cfg, err := newInstanceConfig("", opts)
	if err == nil {
		err = r.opts.admit(cfg)
	}
	if err != nil {
		return View[T]{}, err
	}
	if cfg.argsUnavailable() {
		return View[T]{}, fmt.Errorf("%w: arguments unavailable", ErrInvalidConfig)
	}

	if err := r.acquire(ctx); err != nil {
		return View[T]{}, err
	}
	_, merged, err := r.fill(ctx, cfg)
	r.release()
	r.commitAll(merged)
	if err != nil {
		return View[T]{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start, end := cfg.bounds()
	items, err := r.registry.Slice(cfg.RegistryKey, start, end)
	if err != nil {
		return View[T]{}, fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	total := 0
	if p, ok := r.registry.Get(cfg.RegistryKey); ok {
		total = p.Len()
	}
	return View[T]{
		Items:      items,
		Mode:       cfg.Mode,
		Page:       cfg.Page,
		PageFrom:   cfg.PageFrom,
		PageTo:     cfg.PageTo,
		PageSize:   cfg.PageSize,
		Total:      total,
		TotalPages: totalPages(total, cfg.PageSize),
	}, nil
}
