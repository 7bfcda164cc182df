package pagination

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/pagestore/pkg/registry"
)

// Controller is the external API of one resource.
type Controller[T any] struct {
	r *Resource[T]
}

// RangeRequest selects what FetchRange returns. Page and PageFrom/PageTo are
// mutually exclusive; defaults follow InstanceOptions.
type RangeRequest struct {
	Page     int
	PageFrom int
	PageTo   int
	PageSize int
	Args     any
}

func (req RangeRequest) options() InstanceOptions {
	return InstanceOptions{
		Page:     req.Page,
		PageFrom: req.PageFrom,
		PageTo:   req.PageTo,
		PageSize: req.PageSize,
		Args:     req.Args,
	}
}

// Stats is a snapshot of a resource's cache and tracker.
type Stats struct {
	Partitions int            `json:"partitions"`
	Instances  int            `json:"instances"`
	Keys       []registry.Key `json:"keys"`
}

// Name returns the resource name.
func (c *Controller[T]) Name() string {
	return c.r.name
}

// Options returns the effective resource options.
func (c *Controller[T]) Options() Options {
	return c.r.opts
}

// Refresh clears every cached partition and reloads every live instance.
func (c *Controller[T]) Refresh(ctx context.Context) error {
	return c.r.refresh(ctx)
}

// FetchRange loads the requested page or range and returns its items without
// creating an instance.
func (c *Controller[T]) FetchRange(ctx context.Context, req RangeRequest) ([]T, error) {
	view, err := c.FetchRangeView(ctx, req)
	if err != nil {
		return nil, err
	}
	return view.Items, nil
}

// FetchRangeView is FetchRange returning the full view.
func (c *Controller[T]) FetchRangeView(ctx context.Context, req RangeRequest) (View[T], error) {
	view, err := c.r.fetchRange(ctx, req.options())
	if err != nil {
		return View[T]{}, err
	}
	if err := c.r.sweep(ctx); err != nil {
		return View[T]{}, err
	}
	return view, nil
}

// On subscribes cb to event for this resource. Valid events are
// EventInstanceConfigChanged and EventItemsMerged; any other name returns
// ErrInvalidEventName. The returned function unsubscribes.
func (c *Controller[T]) On(event string, cb func(Mutation)) (func(), error) {
	if err := ValidateEventName(event); err != nil {
		return nil, err
	}
	name := c.r.name
	return c.r.host.Subscribe(func(m Mutation) {
		if m.Resource == name && m.Type == event {
			cb(m)
		}
	}), nil
}

// Instance returns the current view of instance id.
func (c *Controller[T]) Instance(id InstanceID) (View[T], bool) {
	return c.r.project(id)
}

// Config returns the tracked configuration of instance id.
func (c *Controller[T]) Config(id InstanceID) (InstanceConfig, bool) {
	return c.r.config(id)
}

// Instances returns the ids of all live instances.
func (c *Controller[T]) Instances() []InstanceID {
	return c.r.instanceIDs()
}

// CreateInstance registers an instance with a caller-chosen id and loads it.
// Fetch errors are returned; the instance stays registered with loading set.
func (c *Controller[T]) CreateInstance(ctx context.Context, id InstanceID, opts InstanceOptions) error {
	return c.r.createInstance(ctx, id, opts)
}

// EnsureLoaded loads whatever the instance's current range is missing.
func (c *Controller[T]) EnsureLoaded(ctx context.Context, id InstanceID) error {
	err := c.r.ensureLoaded(ctx, id)
	if errors.Is(err, ErrUnknownInstance) {
		return fmt.Errorf("%w: %s", err, id)
	}
	return err
}

// UpdateInstance applies patch and loads the new range. A patch that changes
// nothing is a no-op.
func (c *Controller[T]) UpdateInstance(ctx context.Context, id InstanceID, patch Patch) error {
	return c.r.updateInstance(ctx, id, patch)
}

// RemoveInstance stops tracking id. Its partition remains cached until evicted.
func (c *Controller[T]) RemoveInstance(id InstanceID) bool {
	return c.r.removeInstance(id)
}

// Wait blocks until the background initial loads of bindings created with the
// package-level CreateInstance have finished.
func (c *Controller[T]) Wait() {
	c.r.bg.Wait()
}

// Stats returns the current partition and instance counts.
func (c *Controller[T]) Stats() Stats {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	return Stats{
		Partitions: c.r.registry.Len(),
		Instances:  len(c.r.instances),
		Keys:       c.r.registry.Keys(),
	}
}
