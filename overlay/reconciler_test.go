package overlay_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/MapConductor/geocore/geo"
	"github.com/MapConductor/geocore/overlay"
)

// recordingRenderer is an order-recording stub. Each renderer call is
// appended to calls as "method:[sorted ids]"; an optional delay makes
// interleaving visible if the exclusive gate ever leaked.
type recordingRenderer struct {
	mu      sync.Mutex
	calls   []string
	delay   time.Duration
	decline map[string]bool // ids to answer with a nil handle
}

func (r *recordingRenderer) record(method string, ids []string) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	r.mu.Lock()
	r.calls = append(r.calls, fmt.Sprintf("%s:[%s]", method, strings.Join(sorted, " ")))
	r.mu.Unlock()
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
}

func (r *recordingRenderer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingRenderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *recordingRenderer) OnAdd(_ context.Context, states []overlay.MarkerState) []*overlay.MarkerHandle {
	ids := make([]string, len(states))
	handles := make([]*overlay.MarkerHandle, len(states))
	for i, s := range states {
		ids[i] = overlay.StateID(s)
		if !r.decline[ids[i]] {
			handles[i] = &overlay.MarkerHandle{ProviderID: "h-" + ids[i]}
		}
	}
	r.record("add", ids)
	return handles
}

func (r *recordingRenderer) OnChange(_ context.Context, changes []overlay.Change[overlay.MarkerState, overlay.MarkerHandle]) []*overlay.MarkerHandle {
	ids := make([]string, len(changes))
	handles := make([]*overlay.MarkerHandle, len(changes))
	for i, ch := range changes {
		ids[i] = overlay.StateID(ch.State)
		if !r.decline[ids[i]] {
			handles[i] = &overlay.MarkerHandle{ProviderID: "h2-" + ids[i]}
		}
	}
	r.record("change", ids)
	return handles
}

func (r *recordingRenderer) OnRemove(_ context.Context, removed []*overlay.Entity[overlay.MarkerState, overlay.MarkerHandle]) {
	ids := make([]string, len(removed))
	for i, e := range removed {
		ids[i] = e.ID
	}
	r.record("remove", ids)
}

func (r *recordingRenderer) OnPostProcess(_ context.Context) {
	r.record("post", nil)
}

func marker(id string, lng float64) overlay.MarkerState {
	return overlay.MarkerState{
		ID:       id,
		Position: geo.Point{Lat: 0, Lng: lng},
		Title:    id,
		Visible:  true,
	}
}

func newTestReconciler(r overlay.Renderer[overlay.MarkerState, overlay.MarkerHandle]) *overlay.Reconciler[overlay.MarkerState, overlay.MarkerHandle] {
	return overlay.NewMarkerReconciler(r, overlay.DefaultConfig())
}

func TestAddDiffScenario(t *testing.T) {
	ctx := context.Background()
	rend := &recordingRenderer{}
	ctl := newTestReconciler(rend)

	require.NoError(t, ctl.Add(ctx, []overlay.MarkerState{
		marker("a", 0.1), marker("b", 0.2), marker("c", 0.3),
	}))
	assert.Equal(t, []string{"add:[a b c]", "post:[]"}, rend.Calls())
	assert.Equal(t, 3, ctl.Len())

	// Resubmit with a gone, b and c byte-identical, d new: exactly one
	// remove, one add, zero changes, one post-process, in that order.
	rend.Reset()
	require.NoError(t, ctl.Add(ctx, []overlay.MarkerState{
		marker("b", 0.2), marker("c", 0.3), marker("d", 0.4),
	}))
	assert.Equal(t, []string{"remove:[a]", "add:[d]", "post:[]"}, rend.Calls())
	assert.Equal(t, 3, ctl.Len())
	assert.Empty(t, ctl.FindByIDPrefix("a"))
}

func TestAddReRendersChangedStates(t *testing.T) {
	ctx := context.Background()
	rend := &recordingRenderer{}
	ctl := newTestReconciler(rend)

	require.NoError(t, ctl.Add(ctx, []overlay.MarkerState{marker("a", 0.1)}))
	rend.Reset()

	moved := marker("a", 0.11)
	require.NoError(t, ctl.Add(ctx, []overlay.MarkerState{moved}))
	assert.Equal(t, []string{"change:[a]", "post:[]"}, rend.Calls())

	e, ok := ctl.FindNearest(geo.Point{Lat: 0, Lng: 0.11})
	require.True(t, ok)
	assert.Equal(t, "h2-a", e.Handle.ProviderID, "replacement entity carries the new handle")
	assert.Equal(t, overlay.Fingerprint(moved), e.Fingerprint)
}

func TestAddEmptyListRemovesEverything(t *testing.T) {
	ctx := context.Background()
	rend := &recordingRenderer{}
	ctl := newTestReconciler(rend)

	require.NoError(t, ctl.Add(ctx, []overlay.MarkerState{marker("a", 0.1), marker("b", 0.2)}))
	rend.Reset()

	require.NoError(t, ctl.Add(ctx, nil))
	assert.Equal(t, []string{"remove:[a b]", "post:[]"}, rend.Calls())
	assert.Zero(t, ctl.Len())
}

func TestDeclinedResultSkipsRegistration(t *testing.T) {
	ctx := context.Background()
	rend := &recordingRenderer{decline: map[string]bool{"b": true}}
	ctl := newTestReconciler(rend)

	// Renderer absence is "not rendered", never an error.
	require.NoError(t, ctl.Add(ctx, []overlay.MarkerState{marker("a", 0.1), marker("b", 0.2)}))
	assert.Equal(t, 1, ctl.Len())
	assert.True(t, ctl.FindByIDPrefix("a")[0].Rendered())
	assert.Empty(t, ctl.FindByIDPrefix("b"))
}

func TestUpdateIdempotence(t *testing.T) {
	ctx := context.Background()
	rend := &recordingRenderer{}
	ctl := newTestReconciler(rend)

	require.NoError(t, ctl.Add(ctx, []overlay.MarkerState{marker("a", 0.1)}))
	rend.Reset()

	// Fingerprint-unchanged: the renderer is never consulted.
	require.NoError(t, ctl.Update(ctx, marker("a", 0.1)))
	assert.Empty(t, rend.Calls())

	moved := marker("a", 0.2)
	require.NoError(t, ctl.Update(ctx, moved))
	assert.Equal(t, []string{"change:[a]", "post:[]"}, rend.Calls())

	// Second identical update: zero renderer calls.
	rend.Reset()
	require.NoError(t, ctl.Update(ctx, moved))
	assert.Empty(t, rend.Calls())
}

func TestUpdateAbsentEntityIsNoOp(t *testing.T) {
	ctx := context.Background()
	rend := &recordingRenderer{}
	ctl := newTestReconciler(rend)

	require.NoError(t, ctl.Update(ctx, marker("ghost", 0.5)))
	assert.Empty(t, rend.Calls())
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	rend := &recordingRenderer{}
	ctl := newTestReconciler(rend)

	require.NoError(t, ctl.Add(ctx, []overlay.MarkerState{marker("a", 0.1), marker("b", 0.2)}))
	rend.Reset()

	require.NoError(t, ctl.Clear(ctx))
	assert.Equal(t, []string{"remove:[a b]", "post:[]"}, rend.Calls())
	assert.Zero(t, ctl.Len())

	// Clearing an empty reconciler removes nothing.
	rend.Reset()
	require.NoError(t, ctl.Clear(ctx))
	assert.Equal(t, []string{"post:[]"}, rend.Calls())
}

func TestDestroyIsTerminal(t *testing.T) {
	ctx := context.Background()
	rend := &recordingRenderer{}
	ctl := newTestReconciler(rend)

	require.NoError(t, ctl.Add(ctx, []overlay.MarkerState{marker("a", 0.1)}))
	ctl.Destroy()
	ctl.Destroy() // idempotent
	rend.Reset()

	// Every operation is a permanent no-op with zero renderer calls.
	require.NoError(t, ctl.Add(ctx, []overlay.MarkerState{marker("b", 0.2)}))
	require.NoError(t, ctl.Update(ctx, marker("a", 0.9)))
	require.NoError(t, ctl.Clear(ctx))
	assert.Empty(t, rend.Calls())

	assert.Zero(t, ctl.Len())
	_, ok := ctl.FindNearest(geo.Point{})
	assert.False(t, ok)
	assert.Empty(t, ctl.FindByIDPrefix(""))
}

func TestDestroyDuringInFlightAdd(t *testing.T) {
	ctx := context.Background()
	rend := &recordingRenderer{delay: 20 * time.Millisecond}
	ctl := newTestReconciler(rend)

	done := make(chan error, 1)
	go func() {
		done <- ctl.Add(ctx, []overlay.MarkerState{marker("a", 0.1), marker("b", 0.2)})
	}()

	time.Sleep(5 * time.Millisecond) // let the add reach the renderer
	ctl.Destroy()

	require.NoError(t, <-done)
	// The in-flight result was discarded at the destroyed store.
	assert.Zero(t, ctl.Len())
}

// nopRenderer accepts everything and renders nothing.
type nopRenderer[S overlay.State, H any] struct{}

func (nopRenderer[S, H]) OnAdd(_ context.Context, states []S) []*H {
	return make([]*H, len(states))
}

func (nopRenderer[S, H]) OnChange(_ context.Context, changes []overlay.Change[S, H]) []*H {
	return make([]*H, len(changes))
}

func (nopRenderer[S, H]) OnRemove(_ context.Context, _ []*overlay.Entity[S, H]) {}

func (nopRenderer[S, H]) OnPostProcess(_ context.Context) {}

func TestRejectsStatesWithoutPoints(t *testing.T) {
	ctx := context.Background()
	ctl := overlay.NewPolylineReconciler(
		nopRenderer[overlay.PolylineState, overlay.PolylineHandle]{},
		overlay.DefaultConfig(),
	)

	err := ctl.Add(ctx, []overlay.PolylineState{{ID: "p", Path: nil}})
	assert.ErrorIs(t, err, overlay.ErrNoPoints)
	assert.Zero(t, ctl.Len())

	err = ctl.Update(ctx, overlay.PolylineState{ID: "p"})
	assert.ErrorIs(t, err, overlay.ErrNoPoints)
}

// badRenderer violates the batch contract by returning too few results.
type badRenderer struct{ recordingRenderer }

func (b *badRenderer) OnAdd(_ context.Context, states []overlay.MarkerState) []*overlay.MarkerHandle {
	return make([]*overlay.MarkerHandle, len(states)-1)
}

func TestBatchLengthViolation(t *testing.T) {
	ctl := newTestReconciler(&badRenderer{})
	err := ctl.Add(context.Background(), []overlay.MarkerState{marker("a", 0.1), marker("b", 0.2)})
	assert.ErrorIs(t, err, overlay.ErrBatchLength)
}

func TestGateCancellation(t *testing.T) {
	rend := &recordingRenderer{delay: 50 * time.Millisecond}
	ctl := newTestReconciler(rend)

	started := make(chan struct{})
	go func() {
		close(started)
		_ = ctl.Add(context.Background(), []overlay.MarkerState{marker("a", 0.1)})
	}()
	<-started
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	err := ctl.Add(ctx, []overlay.MarkerState{marker("b", 0.2)})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "waiting at the gate respects the context")
}

// Concurrent Add calls on one instance must be linearized by the gate:
// each batch's renderer calls form a contiguous remove?-add?-change?-post
// group, never interleaved with another batch's.
func TestConcurrentAddsAreSerialized(t *testing.T) {
	rend := &recordingRenderer{delay: 2 * time.Millisecond}
	ctl := newTestReconciler(rend)

	const workers = 8
	g := new(errgroup.Group)
	for i := 0; i < workers; i++ {
		id := fmt.Sprintf("w-%d", i)
		g.Go(func() error {
			return ctl.Add(context.Background(), []overlay.MarkerState{marker(id, 0.1)})
		})
	}
	require.NoError(t, g.Wait())

	calls := rend.Calls()

	// Grammar check: every post terminates a group holding at most one
	// remove, one add and one change, in that order.
	posts, adds, removes := 0, 0, 0
	stage := 0 // 0=expect remove|add|change|post, advances within a group
	for _, call := range calls {
		method := call[:strings.Index(call, ":")]
		switch method {
		case "remove":
			require.Equal(t, 0, stage, "remove after add/change in %v", calls)
			stage = 1
			removes++
		case "add":
			require.LessOrEqual(t, stage, 1, "add out of order in %v", calls)
			stage = 2
			adds++
		case "change":
			require.LessOrEqual(t, stage, 2, "change out of order in %v", calls)
			stage = 3
		case "post":
			stage = 0
			posts++
		}
	}
	assert.Equal(t, workers, posts, "one post-process per batch")
	assert.Equal(t, workers, adds, "each batch added its marker")
	assert.Equal(t, workers-1, removes, "each later batch removed its predecessor")

	// Exactly the last writer's marker survives.
	assert.Equal(t, 1, ctl.Len())
}
