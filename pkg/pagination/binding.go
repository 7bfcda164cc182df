package pagination

import (
	"context"
	"fmt"
	"sync"
)

// Field names a property of a Binding.
type Field string

const (
	FieldItems      Field = "items"
	FieldPage       Field = "page"
	FieldPageSize   Field = "pageSize"
	FieldPageFrom   Field = "pageFrom"
	FieldPageTo     Field = "pageTo"
	FieldTotal      Field = "total"
	FieldTotalPages Field = "totalPages"
	FieldLoading    Field = "loading"
)

// Binding is a live read/write accessor over one instance. Reads project the
// instance's current view; writes to paging fields update the instance and
// load the new range.
//
// A binding created before its resource is registered reads as defaults
// (loading, no items) and buffers writes into its initial options until the
// resource appears.
type Binding[T any] struct {
	id       InstanceID
	resource string
	store    *Store
	mode     Mode

	mu       sync.Mutex
	opts     InstanceOptions
	r        *Resource[T]
	closed   bool
	watchers []func()
}

// ID returns the instance id.
func (b *Binding[T]) ID() InstanceID {
	return b.id
}

// Resource returns the name of the bound resource.
func (b *Binding[T]) Resource() string {
	return b.resource
}

// Mode returns the paging mode fixed at creation.
func (b *Binding[T]) Mode() Mode {
	return b.mode
}

// Linked reports whether the resource has been registered and the instance
// is tracked.
func (b *Binding[T]) Linked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.r != nil && !b.closed
}

func (b *Binding[T]) link(res any) {
	r, ok := res.(*Resource[T])
	if !ok {
		b.store.logger.Warn().
			Str("resource", b.resource).
			Str("instance", string(b.id)).
			Err(ErrResourceType).
			Msg("Queued instance cannot bind to resource")
		return
	}
	if err := b.attach(r); err != nil {
		r.logger.Warn().Err(err).Str("instance", string(b.id)).Msg("Queued instance rejected")
	}
}

// attach registers the instance with r and starts its initial load.
func (b *Binding[T]) attach(r *Resource[T]) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	opts := b.opts
	b.mu.Unlock()

	if _, err := r.addInstance(b.id, opts); err != nil {
		return err
	}

	b.mu.Lock()
	b.r = r
	b.mu.Unlock()

	r.loadInBackground(b.id)
	return nil
}

func (b *Binding[T]) pendingView() View[T] {
	cfg, _ := newInstanceConfig(b.id, b.opts)
	return View[T]{
		Items:      []T{},
		Mode:       cfg.Mode,
		Page:       cfg.Page,
		PageFrom:   cfg.PageFrom,
		PageTo:     cfg.PageTo,
		PageSize:   cfg.PageSize,
		TotalPages: 1,
		Loading:    true,
	}
}

// View returns the current projection of the instance.
func (b *Binding[T]) View() View[T] {
	b.mu.Lock()
	r := b.r
	if r == nil || b.closed {
		v := b.pendingView()
		b.mu.Unlock()
		return v
	}
	b.mu.Unlock()

	if v, ok := r.project(b.id); ok {
		return v
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingView()
}

// Fields lists the readable fields for the binding's mode.
func (b *Binding[T]) Fields() []Field {
	if b.mode == ModeRange {
		return []Field{FieldItems, FieldPageFrom, FieldPageTo, FieldPageSize, FieldTotal, FieldTotalPages, FieldLoading}
	}
	return []Field{FieldItems, FieldPage, FieldPageSize, FieldTotal, FieldTotalPages, FieldLoading}
}

// Get reads one field of the current view. Unknown fields and fields of the
// other paging mode read as nil.
func (b *Binding[T]) Get(field Field) any {
	v := b.View()
	switch field {
	case FieldItems:
		return v.Items
	case FieldPageSize:
		return v.PageSize
	case FieldTotal:
		return v.Total
	case FieldTotalPages:
		return v.TotalPages
	case FieldLoading:
		return v.Loading
	}
	if b.mode == ModeRange {
		switch field {
		case FieldPageFrom:
			return v.PageFrom
		case FieldPageTo:
			return v.PageTo
		}
		return nil
	}
	if field == FieldPage {
		return v.Page
	}
	return nil
}

// writable reports whether field can be set in the binding's mode.
func (b *Binding[T]) writable(field Field) bool {
	switch field {
	case FieldPageSize:
		return true
	case FieldPage:
		return b.mode == ModeSingle
	case FieldPageFrom, FieldPageTo:
		return b.mode == ModeRange
	}
	return false
}

// Set writes a paging field and loads the resulting range. Fields that are
// read-only or belong to the other paging mode return ErrRejected and leave
// the instance untouched. Values must be positive.
func (b *Binding[T]) Set(ctx context.Context, field Field, value int) error {
	if !b.writable(field) {
		return fmt.Errorf("%w: field %q", ErrRejected, field)
	}
	if value <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, field, value)
	}

	var patch Patch
	switch field {
	case FieldPage:
		patch.Page = value
	case FieldPageSize:
		patch.PageSize = value
	case FieldPageFrom:
		patch.PageFrom = value
	case FieldPageTo:
		patch.PageTo = value
	}
	return b.apply(ctx, patch)
}

// SetArgs replaces the argument value and resets paging to the first page.
// A range keeps its width.
func (b *Binding[T]) SetArgs(ctx context.Context, args any) error {
	cur := b.View()
	patch := Patch{Args: args, SetArgs: true}
	if b.mode == ModeRange {
		patch.PageFrom = 1
		patch.PageTo = 1 + cur.PageTo - cur.PageFrom
	} else {
		patch.Page = 1
	}
	return b.apply(ctx, patch)
}

func (b *Binding[T]) apply(ctx context.Context, patch Patch) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s is closed", ErrUnknownInstance, b.id)
	}
	r := b.r
	if r == nil {
		defer b.mu.Unlock()
		return b.bufferLocked(patch)
	}
	b.mu.Unlock()
	return r.updateInstance(ctx, b.id, patch)
}

// bufferLocked folds patch into the initial options of an unlinked binding.
func (b *Binding[T]) bufferLocked(patch Patch) error {
	cfg, err := newInstanceConfig(b.id, b.opts)
	if err != nil {
		return err
	}
	next, err := applyPatch(cfg, patch)
	if err != nil {
		return err
	}
	b.opts.PageSize = next.PageSize
	b.opts.Args = next.Args
	if next.Mode == ModeRange {
		b.opts.PageFrom, b.opts.PageTo = next.PageFrom, next.PageTo
	} else {
		b.opts.Page = next.Page
	}
	return nil
}

// Watch calls fn with the current view after every change to the instance's
// configuration or to the partition it is bound to. fn runs synchronously on
// the goroutine that made the change, never while a fetch holds the
// resource, so it may write back through Set or SetArgs. The returned
// function stops watching; Close stops all watchers.
func (b *Binding[T]) Watch(fn func(View[T])) func() {
	unsubscribe := b.store.Subscribe(func(m Mutation) {
		if m.Resource != b.resource {
			return
		}
		switch payload := m.Payload.(type) {
		case InstanceConfig:
			if payload.ID != b.id {
				return
			}
		case MergeEvent:
			b.mu.Lock()
			r := b.r
			b.mu.Unlock()
			if r == nil {
				return
			}
			cfg, ok := r.config(b.id)
			if !ok || cfg.RegistryKey != payload.RegistryKey {
				return
			}
		default:
			return
		}
		fn(b.View())
	})

	b.mu.Lock()
	b.watchers = append(b.watchers, unsubscribe)
	b.mu.Unlock()
	return unsubscribe
}

// Close removes the instance from its resource and stops all watchers. The
// cached partition stays until evicted.
func (b *Binding[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	r := b.r
	watchers := b.watchers
	b.watchers = nil
	b.mu.Unlock()

	for _, unsubscribe := range watchers {
		unsubscribe()
	}
	if r == nil {
		b.store.dropPending(b.resource, b)
		return
	}
	r.removeInstance(b.id)
}
