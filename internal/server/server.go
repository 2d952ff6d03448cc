// Package server hosts the authoritative simulation: it spawns the configured
// actors, ticks their timers, executes forwarded commands, broadcasts state
// deltas and persists snapshots.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/abilitycore/internal/actor"
	"github.com/udisondev/abilitycore/internal/config"
	"github.com/udisondev/abilitycore/internal/data"
	"github.com/udisondev/abilitycore/internal/metrics"
	"github.com/udisondev/abilitycore/internal/replication"
	"github.com/udisondev/abilitycore/internal/system"
	"github.com/udisondev/abilitycore/internal/timer"
)

// SnapshotStore persists actor snapshots. *db.SnapshotRepository implements it.
type SnapshotStore interface {
	Save(ctx context.Context, snap system.Snapshot) error
	Load(ctx context.Context, id actor.ID) (*system.Snapshot, error)
}

// Option configures a Server.
type Option func(*Server)

// WithSnapshotStore enables loading and periodic saving of snapshots.
func WithSnapshotStore(s SnapshotStore) Option { return func(srv *Server) { srv.store = s } }

// WithRegistry sets the Prometheus registry. Defaults to a fresh registry
// with the Go and process collectors.
func WithRegistry(r *prometheus.Registry) Option { return func(srv *Server) { srv.registry = r } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.log = l
		}
	}
}

// Server owns the simulation. Everything under world is touched only from
// the goroutine that calls Step (the tick loop inside Run).
type Server struct {
	cfg      config.Server
	catalog  *data.Catalog
	store    SnapshotStore
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	log      *slog.Logger

	timers     *timer.Manager
	world      *system.World
	inbox      *replication.Inbox
	commands   *replication.Loopback
	deltas     *replication.Fanout
	publishers map[actor.ID]*replication.Publisher

	jobs      chan func()
	snapshots chan []system.Snapshot
	ticks     atomic.Uint64
}

// New builds the world from the catalog's actors. Actors with a stored
// snapshot are restored from it instead of their startup definition.
func New(ctx context.Context, cfg config.Server, catalog *data.Catalog, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		catalog:    catalog,
		log:        slog.Default(),
		timers:     timer.NewManager(),
		commands:   replication.NewLoopback(),
		deltas:     &replication.Fanout{},
		publishers: make(map[actor.ID]*replication.Publisher),
		jobs:       make(chan func(), 64),
		snapshots:  make(chan []system.Snapshot, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(collectors.NewGoCollector())
		s.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	s.metrics = metrics.New(s.registry)

	s.world = system.NewWorld(s.timers,
		system.WithCatalog(catalog),
		system.WithMetrics(s.metrics),
		system.WithLogger(s.log))
	s.inbox = replication.NewInbox(s.world,
		replication.WithMetrics(s.metrics),
		replication.WithLogger(s.log))

	var errs []error
	for _, def := range catalog.Actors() {
		if err := s.spawn(ctx, def); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	s.log.Info("world initialized", "actors", s.world.Len())
	return s, nil
}

func (s *Server) spawn(ctx context.Context, def data.ActorDef) error {
	id := actor.ID(def.ID)
	sys := s.world.Spawn(actor.New(id, actor.RoleAuthority))
	if def.Class != "" {
		sys.InitAttributes(def.Class)
	}

	if s.store != nil {
		snap, err := s.store.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("loading snapshot of %s: %w", id, err)
		}
		if snap != nil {
			if err := sys.Restore(*snap); err != nil {
				s.log.Warn("snapshot partially restored", "actor", id, "error", err)
			}
			s.publish(sys)
			s.log.Info("actor restored", "actor", id, "abilities", len(snap.Abilities), "effects", len(snap.Effects))
			return nil
		}
	}

	for _, ab := range def.Abilities {
		sys.Abilities().GrantByID(ab)
	}
	for _, e := range def.Effects {
		sys.ApplyEffect(id, e, 1)
	}
	s.publish(sys)
	s.log.Debug("actor spawned", "actor", id, "class", def.Class)
	return nil
}

func (s *Server) publish(sys *system.System) {
	s.publishers[sys.ID()] = replication.NewPublisher(sys, s.deltas,
		replication.WithMetrics(s.metrics),
		replication.WithLogger(s.log))
}

// World returns the simulated world. Only safe from the tick goroutine or
// before Run.
func (s *Server) World() *system.World { return s.world }

// Commands is the channel clients send command frames on.
func (s *Server) Commands() replication.Channel { return s.commands }

// Registry returns the Prometheus registry the server reports to.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// Ticks returns the number of completed steps.
func (s *Server) Ticks() uint64 { return s.ticks.Load() }

// Subscribe attaches ch to the delta broadcast and sends it the full state of
// every actor on the next step.
func (s *Server) Subscribe(ctx context.Context, ch replication.Channel) error {
	return s.Do(ctx, func() {
		s.deltas.Attach(ch)
		for _, sys := range s.world.Systems() {
			s.publishers[sys.ID()].Sync()
		}
	})
}

// Do queues fn to run on the simulation goroutine during the next step.
// When the queue is full it waits for a step to drain it, or for ctx.
func (s *Server) Do(ctx context.Context, fn func()) error {
	select {
	case s.jobs <- fn:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queueing job: %w", ctx.Err())
	}
}

// Step runs one simulation step: queued jobs, forwarded commands, then
// timers advanced by dt.
func (s *Server) Step(dt time.Duration) {
drain:
	for {
		select {
		case fn := <-s.jobs:
			fn()
		default:
			break drain
		}
	}
	if err := s.inbox.HandleAll(s.commands.Drain()); err != nil {
		s.log.Warn("malformed commands dropped", "error", err)
	}
	s.timers.Advance(dt)
	s.ticks.Add(1)
}

// Snapshot captures every actor. Only safe from the tick goroutine.
func (s *Server) Snapshot() []system.Snapshot {
	systems := s.world.Systems()
	out := make([]system.Snapshot, 0, len(systems))
	for _, sys := range systems {
		out = append(out, sys.Snapshot())
	}
	return out
}

// Run drives the simulation until ctx is canceled. The tick loop, the
// snapshot writer and the metrics listener run in one errgroup.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(s.snapshots)
		return s.tickLoop(gctx)
	})

	if s.store != nil {
		g.Go(s.persistLoop)
	}

	if s.cfg.MetricsAddr != "" {
		g.Go(func() error { return s.serveMetrics(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	var snapshotC <-chan time.Time
	if s.store != nil && s.cfg.SnapshotInterval > 0 {
		snapTicker := time.NewTicker(s.cfg.SnapshotInterval)
		defer snapTicker.Stop()
		snapshotC = snapTicker.C
	}

	s.log.Info("simulation started", "tick", s.cfg.TickInterval, "snapshot_interval", s.cfg.SnapshotInterval)
	for {
		select {
		case <-ctx.Done():
			// Последний снапшот перед остановкой.
			if s.store != nil {
				s.snapshots <- s.Snapshot()
			}
			s.log.Info("simulation stopping", "ticks", s.ticks.Load())
			return ctx.Err()
		case <-ticker.C:
			s.Step(s.cfg.TickInterval)
		case <-snapshotC:
			select {
			case s.snapshots <- s.Snapshot():
			default:
				s.log.Warn("snapshot writer busy, skipping")
			}
		}
	}
}

func (s *Server) persistLoop() error {
	for batch := range s.snapshots {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		var errs []error
		for _, snap := range batch {
			if err := s.store.Save(ctx, snap); err != nil {
				errs = append(errs, err)
			}
		}
		cancel()
		if err := errors.Join(errs...); err != nil {
			s.log.Error("saving snapshots", "error", err)
			continue
		}
		s.log.Debug("snapshots saved", "actors", len(batch))
	}
	return nil
}

func (s *Server) serveMetrics(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.MetricsAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("metrics server started", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down metrics server: %w", err)
	}
	return nil
}
