package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/MapConductor/geocore/geo"
	"github.com/MapConductor/geocore/telemetry"
)

var (
	// ErrBatchLength reports a renderer that violated the batch contract
	// by returning a result list of the wrong length. This indicates a
	// renderer bug, not a runtime condition.
	ErrBatchLength = errors.New("overlay: renderer returned wrong batch length")

	// ErrNoPoints reports a submitted state with an empty point list.
	// The anchor position is mandatory; rejected before any renderer
	// call or store mutation.
	ErrNoPoints = errors.New("overlay: state has no points")
)

// Config configures a Reconciler. The zero value is usable;
// DefaultConfig spells out the defaults.
type Config struct {
	// Store configures the backing entity store.
	Store StoreConfig

	// Logger receives debug-level reconcile traces. Nil means
	// slog.Default().
	Logger *slog.Logger

	// Recorder receives reconcile metrics. Nil disables telemetry.
	Recorder *telemetry.Recorder

	// EventBuffer sizes the animation event channel (default 64).
	EventBuffer int
}

// DefaultConfig returns the standard reconciler configuration.
func DefaultConfig() Config {
	return Config{Store: DefaultStoreConfig(), EventBuffer: 64}
}

// Reconciler turns a complete desired-state list into minimal
// create/update/delete operations against an external Renderer, with
// its Store as the source of truth for what is currently rendered.
//
// Add, Update and Clear are linearized per instance by an exclusive
// gate: a one-permit semaphore with FIFO wakeup. Callers suspend at
// the gate and at renderer calls; store operations are synchronous and
// never call back into the reconciler.
//
// States: Active → Destroyed (terminal). Once destroyed, every
// operation is a permanent no-op.
type Reconciler[S State, H any] struct {
	id       string
	kind     string
	store    *Store[S, H]
	renderer Renderer[S, H]
	gate     *semaphore.Weighted
	log      *slog.Logger
	rec      *telemetry.Recorder
	events   *Events

	destroyed atomic.Bool
}

// NewReconciler creates a reconciler for one overlay kind driving the
// given renderer.
func NewReconciler[S State, H any](kind string, r Renderer[S, H], cfg Config) *Reconciler[S, H] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Reconciler[S, H]{
		id:       id,
		kind:     kind,
		store:    NewStore[S, H](cfg.Store),
		renderer: r,
		gate:     semaphore.NewWeighted(1),
		log:      logger.With("reconciler", id[:8], "kind", kind),
		rec:      cfg.Recorder,
		events:   newEvents(cfg.EventBuffer),
	}
}

// Kind returns the overlay kind this reconciler manages.
func (c *Reconciler[S, H]) Kind() string {
	return c.kind
}

// Events returns the controller-owned animation event channel.
func (c *Reconciler[S, H]) Events() *Events {
	return c.events
}

// EventSink returns the publish handle to hand to the renderer.
func (c *Reconciler[S, H]) EventSink() EventSink {
	return c.events.Sink()
}

// Add reconciles the store against a complete desired-state list.
// Entities absent from the list are removed first (bounding peak
// resource use), new entities are created via one batched OnAdd,
// changed entities are re-rendered via one batched OnChange, and
// OnPostProcess runs exactly once at the end. Fingerprint-unchanged
// entities never reach the renderer.
func (c *Reconciler[S, H]) Add(ctx context.Context, states []S) error {
	if c.destroyed.Load() {
		return nil
	}
	for _, s := range states {
		if len(s.Points()) == 0 {
			return fmt.Errorf("%w (id %q)", ErrNoPoints, StateID(s))
		}
	}
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire gate: %w", err)
	}
	defer c.gate.Release(1)
	if c.destroyed.Load() {
		return nil
	}

	// Snapshot current ids; everything not re-submitted is stale.
	previous := make(map[string]struct{})
	for _, id := range c.store.IDs() {
		previous[id] = struct{}{}
	}

	var added []S
	var updated []Change[S, H]
	skipped := 0
	for _, s := range states {
		id := StateID(s)
		prev, live := c.store.Get(id)
		if _, seen := previous[id]; seen && live {
			delete(previous, id)
			if prev.Fingerprint == Fingerprint(s) {
				skipped++
				continue
			}
			updated = append(updated, Change[S, H]{State: s, Previous: prev})
		} else {
			delete(previous, id)
			added = append(added, s)
		}
	}

	// Remove stale entries before creating new ones.
	var removed []*Entity[S, H]
	for id := range previous {
		if e, ok := c.store.Get(id); ok {
			removed = append(removed, e)
		}
	}
	if len(removed) > 0 {
		c.renderer.OnRemove(ctx, removed)
		for _, e := range removed {
			c.store.Remove(e.ID)
		}
	}

	if len(added) > 0 {
		handles := c.renderer.OnAdd(ctx, added)
		if len(handles) != len(added) {
			return fmt.Errorf("%w: OnAdd returned %d results for %d inputs", ErrBatchLength, len(handles), len(added))
		}
		for i, s := range added {
			if handles[i] == nil {
				continue // not rendered: skip, never an error
			}
			e := NewEntity[S, H](s)
			e.Handle = handles[i]
			c.store.Register(e)
		}
	}

	if len(updated) > 0 {
		handles := c.renderer.OnChange(ctx, updated)
		if len(handles) != len(updated) {
			return fmt.Errorf("%w: OnChange returned %d results for %d inputs", ErrBatchLength, len(handles), len(updated))
		}
		for i, ch := range updated {
			if handles[i] == nil {
				continue // previous entity stays rendered
			}
			e := NewEntity[S, H](ch.State)
			e.Handle = handles[i]
			c.store.Register(e)
		}
	}

	c.renderer.OnPostProcess(ctx)

	total := c.store.Len()
	c.rec.ObserveReconcile(len(states), len(added), len(updated), len(removed), skipped, total)
	c.log.Debug("reconciled",
		"batch", len(states),
		"added", len(added),
		"changed", len(updated),
		"removed", len(removed),
		"skipped", skipped,
		"entities", total,
	)
	return nil
}

// Update is the fast path for one entity: a no-op when the entity is
// absent or its fingerprint is unchanged, otherwise a single-element
// re-render under the same exclusive gate.
func (c *Reconciler[S, H]) Update(ctx context.Context, s S) error {
	if c.destroyed.Load() {
		return nil
	}
	if len(s.Points()) == 0 {
		return fmt.Errorf("%w (id %q)", ErrNoPoints, StateID(s))
	}
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire gate: %w", err)
	}
	defer c.gate.Release(1)
	if c.destroyed.Load() {
		return nil
	}

	id := StateID(s)
	prev, ok := c.store.Get(id)
	if !ok {
		return nil
	}
	if prev.Fingerprint == Fingerprint(s) {
		c.rec.ObserveSkippedUpdate()
		return nil
	}

	handles := c.renderer.OnChange(ctx, []Change[S, H]{{State: s, Previous: prev}})
	if len(handles) != 1 {
		return fmt.Errorf("%w: OnChange returned %d results for 1 input", ErrBatchLength, len(handles))
	}
	if handles[0] != nil {
		e := NewEntity[S, H](s)
		e.Handle = handles[0]
		c.store.Register(e)
	}
	c.renderer.OnPostProcess(ctx)

	c.log.Debug("updated", "id", id)
	return nil
}

// Clear removes every current entity from the renderer and empties the
// store.
func (c *Reconciler[S, H]) Clear(ctx context.Context) error {
	if c.destroyed.Load() {
		return nil
	}
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire gate: %w", err)
	}
	defer c.gate.Release(1)
	if c.destroyed.Load() {
		return nil
	}

	all := c.store.All()
	if len(all) > 0 {
		c.renderer.OnRemove(ctx, all)
	}
	c.store.Clear()
	c.renderer.OnPostProcess(ctx)

	c.rec.ObserveReconcile(0, 0, 0, len(all), 0, 0)
	c.log.Debug("cleared", "removed", len(all))
	return nil
}

// Destroy transitions the reconciler to its terminal state. Idempotent
// and safe to call concurrently with an in-flight Add or Update: the
// in-flight pass either completes normally or finds the destroyed
// store discarding its registrations.
func (c *Reconciler[S, H]) Destroy() {
	if c.destroyed.Swap(true) {
		return
	}
	c.store.Destroy()
	c.log.Debug("destroyed")
}

// Len returns the number of currently registered entities.
func (c *Reconciler[S, H]) Len() int {
	return c.store.Len()
}

// FindNearest returns the registered entity closest to the point.
// Queries are advisory hit-testing: they do not await the gate, so a
// query during an in-flight Add may observe a slightly stale index.
func (c *Reconciler[S, H]) FindNearest(p geo.Point) (*Entity[S, H], bool) {
	return c.store.FindNearest(p)
}

// FindKNearest returns the k registered entities closest to the point.
func (c *Reconciler[S, H]) FindKNearest(p geo.Point, k int) ([]*Entity[S, H], error) {
	return c.store.FindKNearest(p, k)
}

// FindWithinRadius returns every registered entity within the given
// ground distance in meters.
func (c *Reconciler[S, H]) FindWithinRadius(p geo.Point, meters float64) ([]*Entity[S, H], error) {
	return c.store.FindWithinRadius(p, meters)
}

// FindWithinPixelRadius returns every registered entity within a
// screen-space pixel radius at the given zoom.
func (c *Reconciler[S, H]) FindWithinPixelRadius(p geo.Point, zoom int, pixels float64) ([]*Entity[S, H], error) {
	return c.store.FindWithinPixelRadius(p, zoom, pixels)
}

// FindByIDPrefix returns every registered entity whose id starts with
// the prefix.
func (c *Reconciler[S, H]) FindByIDPrefix(prefix string) []*Entity[S, H] {
	return c.store.FindByIDPrefix(prefix)
}

// FindInBounds returns every registered entity inside the rectangle.
func (c *Reconciler[S, H]) FindInBounds(b geo.Bounds) []*Entity[S, H] {
	return c.store.FindInBounds(b)
}
