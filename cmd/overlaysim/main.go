// Command overlaysim stress-drives the overlay reconcile engine with
// synthetic moving markers and polylines: every frame it submits a
// complete desired-state list and lets the reconciler work out the
// minimal renderer operations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	opensimplex "github.com/ojrac/opensimplex-go"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MapConductor/geocore/geo"
	"github.com/MapConductor/geocore/overlay"
	"github.com/MapConductor/geocore/telemetry"
)

func main() {
	markers := flag.Int("markers", 200, "number of synthetic markers")
	polylines := flag.Int("polylines", 20, "number of synthetic polylines")
	interval := flag.Duration("interval", 100*time.Millisecond, "frame interval")
	seed := flag.Int64("seed", 42, "noise seed")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	session := uuid.NewString()
	slog.Info("overlaysim starting",
		"session", session[:8],
		"markers", *markers,
		"polylines", *polylines,
		"interval", *interval,
	)

	// ── Telemetry ─────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()

	// ── Reconcilers ───────────────────────────────────────────────────
	markerRenderer := &countingRenderer[overlay.MarkerState, overlay.MarkerHandle]{
		newHandle: func() *overlay.MarkerHandle { return &overlay.MarkerHandle{ProviderID: uuid.NewString()} },
	}
	markerCfg := overlay.DefaultConfig()
	markerCfg.Logger = logger
	markerCfg.Recorder = telemetry.NewRecorder(reg, "marker")
	markerCtl := overlay.NewMarkerReconciler(markerRenderer, markerCfg)
	markerRenderer.sink = markerCtl.EventSink()

	lineRenderer := &countingRenderer[overlay.PolylineState, overlay.PolylineHandle]{
		newHandle: func() *overlay.PolylineHandle { return &overlay.PolylineHandle{ProviderID: uuid.NewString()} },
	}
	lineCfg := overlay.DefaultConfig()
	lineCfg.Logger = logger
	lineCfg.Recorder = telemetry.NewRecorder(reg, "polyline")
	lineCtl := overlay.NewPolylineReconciler(lineRenderer, lineCfg)
	lineRenderer.sink = lineCtl.EventSink()

	// ── Movement field ────────────────────────────────────────────────
	// Smooth noise gives markers organic drift instead of teleporting.
	noise := opensimplex.New(*seed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Drain animation events so the buffers never fill.
	var animations atomic.Uint64
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-markerCtl.Events().C():
				animations.Add(1)
			case <-lineCtl.Events().C():
				animations.Add(1)
			}
		}
	}()

	// ── Frame loop ────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	var frames atomic.Uint64

	g.Go(func() error {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
			t := time.Since(start).Seconds() * 0.2
			if err := markerCtl.Add(gctx, markerStates(noise, t, *markers)); err != nil {
				return fmt.Errorf("marker reconcile: %w", err)
			}
			frames.Add(1)
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(*interval * 5)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
			t := time.Since(start).Seconds() * 0.05
			if err := lineCtl.Add(gctx, polylineStates(noise, t, *polylines)); err != nil {
				return fmt.Errorf("polyline reconcile: %w", err)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}

			probe := geo.Point{Lat: 35.0, Lng: 139.0}
			nearestID := "none"
			if e, ok := markerCtl.FindNearest(probe); ok {
				nearestID = e.ID
			}
			hits, err := markerCtl.FindWithinPixelRadius(probe, 10, 200)
			if err != nil {
				return fmt.Errorf("pixel radius query: %w", err)
			}

			slog.Info("frame report",
				"frames", humanize.Comma(int64(frames.Load())),
				"markers", markerCtl.Len(),
				"polylines", lineCtl.Len(),
				"renderer_calls", humanize.Comma(int64(markerRenderer.calls.Load()+lineRenderer.calls.Load())),
				"animations", animations.Load(),
				"nearest", nearestID,
				"pixel_hits", len(hits),
			)
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("simulation failed", "error", err)
		os.Exit(1)
	}

	// ── Shutdown ──────────────────────────────────────────────────────
	markerCtl.Destroy()
	lineCtl.Destroy()

	families, err := reg.Gather()
	if err != nil {
		slog.Error("gather metrics", "error", err)
	} else {
		slog.Info("final metrics", "families", len(families))
	}

	fmt.Printf("overlaysim stopped after %s frames.\n", humanize.Comma(int64(frames.Load())))
}

// markerStates builds the complete desired marker list for frame time
// t. Each marker drifts on its own noise track around a home position.
func markerStates(noise opensimplex.Noise, t float64, n int) []overlay.MarkerState {
	states := make([]overlay.MarkerState, n)
	for i := range states {
		fi := float64(i)
		homeLat := 35.0 + noise.Eval2(fi*0.13, 0)*2
		homeLng := 139.0 + noise.Eval2(0, fi*0.13)*2
		states[i] = overlay.MarkerState{
			ID: fmt.Sprintf("m-%04d", i),
			Position: geo.Point{
				Lat: homeLat + noise.Eval2(t, fi)*0.05,
				Lng: homeLng + noise.Eval2(t, fi+1000)*0.05,
			},
			Title:   fmt.Sprintf("unit %d", i),
			Color:   overlay.ARGB(255, uint8(37*i), uint8(91*i), uint8(173*i)),
			Visible: true,
		}
	}
	return states
}

// polylineStates builds slow-moving three-point paths.
func polylineStates(noise opensimplex.Noise, t float64, n int) []overlay.PolylineState {
	states := make([]overlay.PolylineState, n)
	for i := range states {
		fi := float64(i)
		path := make([]geo.Point, 3)
		for j := range path {
			fj := float64(j)
			path[j] = geo.Point{
				Lat: 35.0 + noise.Eval2(t+fj*0.3, fi*0.29)*2,
				Lng: 139.0 + noise.Eval2(fi*0.29, t+fj*0.3)*2,
			}
		}
		states[i] = overlay.PolylineState{
			ID:      fmt.Sprintf("p-%04d", i),
			Path:    path,
			WidthPx: 2,
			Color:   overlay.ARGB(200, 30, 144, 255),
			Visible: true,
		}
	}
	return states
}

// countingRenderer is a stand-in provider: it fabricates handles,
// counts calls, and publishes an animation event per re-render.
type countingRenderer[S overlay.State, H any] struct {
	newHandle func() *H
	sink      overlay.EventSink
	calls     atomic.Uint64
}

func (r *countingRenderer[S, H]) OnAdd(_ context.Context, states []S) []*H {
	r.calls.Add(1)
	handles := make([]*H, len(states))
	for i := range handles {
		handles[i] = r.newHandle()
	}
	return handles
}

func (r *countingRenderer[S, H]) OnChange(_ context.Context, changes []overlay.Change[S, H]) []*H {
	r.calls.Add(1)
	handles := make([]*H, len(changes))
	for i, ch := range changes {
		handles[i] = r.newHandle()
		r.sink.Publish(overlay.AnimationEvent{EntityID: ch.Previous.ID, Name: "move"})
	}
	return handles
}

func (r *countingRenderer[S, H]) OnRemove(_ context.Context, _ []*overlay.Entity[S, H]) {
	r.calls.Add(1)
}

func (r *countingRenderer[S, H]) OnPostProcess(_ context.Context) {}
