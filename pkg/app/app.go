// Package app wires every core component into a single running process:
// the state store, the legacy connection pool and dispatcher, the
// structured RPC surface, the periodic switchover/quota cycles, and the
// metrics/health HTTP endpoint. It plays the role cmd/warren/main.go and
// pkg/manager play together in the teacher: construction and lifecycle
// live here so the cmd/ entrypoints stay thin.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/beegfs-io/mgmtd/pkg/config"
	"github.com/beegfs-io/mgmtd/pkg/connpool"
	"github.com/beegfs-io/mgmtd/pkg/dispatch"
	"github.com/beegfs-io/mgmtd/pkg/handlers"
	"github.com/beegfs-io/mgmtd/pkg/log"
	"github.com/beegfs-io/mgmtd/pkg/metrics"
	"github.com/beegfs-io/mgmtd/pkg/periodic"
	"github.com/beegfs-io/mgmtd/pkg/quota"
	"github.com/beegfs-io/mgmtd/pkg/rpc"
	"github.com/beegfs-io/mgmtd/pkg/runstate"
	"github.com/beegfs-io/mgmtd/pkg/store"
	"github.com/beegfs-io/mgmtd/pkg/switchover"
	"github.com/beegfs-io/mgmtd/pkg/types"
)

// Version is the build version reported to metrics and logs. cmd/mgmtd
// overwrites it at link time (-ldflags "-X ...Version=..."); it defaults
// to "dev" for a plain build.
var Version = "dev"

// metricsListenAddr is the loopback address the health/metrics HTTP
// server binds, matching the teacher's separate metrics listener kept
// off the primary service port.
const metricsListenAddr = "127.0.0.1:9090"

// switchoverInterval is how often the buddy switchover engine scans for
// a promotion opportunity. It runs far more often than the node offline
// timeout itself so a failover lands within a few seconds of crossing
// the threshold, not a full timeout period late.
const switchoverInterval = 5 * time.Second

// staleClientSweepInterval is how often shutdown logs a progress line
// while it waits for in-flight work to drain.
const staleClientSweepInterval = 10 * time.Second

// App owns every long-running subsystem's lifecycle. Build with New,
// run with Run; Run blocks until ctx is canceled or a subsystem fails
// unrecoverably.
type App struct {
	cfg    config.Config
	logger zerolog.Logger

	store      *store.Store
	pool       *connpool.Pool
	udpConn    *net.UDPConn
	runState   *runstate.Controller
	handlerCtx *handlers.Context
	dispatcher *dispatch.Dispatcher[*handlers.Context]
	rpcServer  *rpc.Server

	switchoverTask *periodic.Task
	quotaTask      *periodic.Task

	metricsServer *http.Server
}

// New constructs every subsystem from cfg but starts nothing; call Run
// to actually serve. Returns an error if any component fails to
// initialize (a bad database path, an unreadable certificate, a port
// already in use at listen time).
func New(cfg config.Config) (*App, error) {
	logger := log.WithComponent("app")

	st, err := store.Open(cfg.DatabasePath, log.WithComponent("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	secret, err := loadSecret(cfg.Auth)
	if err != nil {
		st.Close()
		return nil, err
	}

	udpAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", cfg.ListenPort))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("resolve udp listen address: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("listen udp on port %d: %w", cfg.ListenPort, err)
	}

	pool := connpool.New(connpool.Config{Secret: secret}, udpConn, log.WithComponent("connpool"))

	runState := runstate.New()

	hctx := &handlers.Context{
		Store:    st,
		Pool:     pool,
		Static:   &handlers.StaticInfo{Config: cfg},
		RunState: runState,
		Pulled:   handlers.NewPullSink(),
		Logger:   log.WithComponent("handlers"),
	}

	dispatcher := dispatch.New[*handlers.Context](hctx, handlers.Register(), log.WithComponent("dispatch"))

	svc := rpc.NewService(st, pool, runState, log.WithComponent("rpc"))
	rpcServer, err := rpc.NewServer(cfg.RPC, svc, log.WithComponent("rpc"))
	if err != nil {
		udpConn.Close()
		st.Close()
		return nil, fmt.Errorf("build rpc server: %w", err)
	}

	swEngine := switchover.New(st, pool, cfg.NodeOfflineTimeout, log.WithComponent("switchover"))
	switchoverTask := periodic.New("switchover", switchoverInterval, swEngine.RunCycle, log.WithComponent("switchover"))

	quotaEngine := quota.New(st, pool, trackedIDsFromStore(st), log.WithComponent("quota"))
	quotaInterval := cfg.Quota.UpdateInterval
	if quotaInterval <= 0 {
		quotaInterval = 30 * time.Second
	}
	quotaTask := periodic.New("quota", quotaInterval, quotaEngine.RunCycle, log.WithComponent("quota"))

	return &App{
		cfg:            cfg,
		logger:         logger,
		store:          st,
		pool:           pool,
		udpConn:        udpConn,
		runState:       runState,
		handlerCtx:     hctx,
		dispatcher:     dispatcher,
		rpcServer:      rpcServer,
		switchoverTask: switchoverTask,
		quotaTask:      quotaTask,
	}, nil
}

// loadSecret reads the shared-secret file when authentication is
// enabled; an unconfigured Auth returns a nil secret, which leaves the
// connection pool accepting unauthenticated channels.
func loadSecret(a config.Auth) ([]byte, error) {
	if !a.Enabled {
		return nil, nil
	}
	data, err := os.ReadFile(a.SecretFile)
	if err != nil {
		return nil, fmt.Errorf("read auth secret file %s: %w", a.SecretFile, err)
	}
	return []byte(strings.TrimSpace(string(data))), nil
}

// trackedIDsFromStore resolves the quota aggregator's per-cycle tracked
// id sets from every id that currently owns a quota limit override,
// re-queried fresh on each call so a newly configured limit is picked
// up without a restart.
func trackedIDsFromStore(st *store.Store) quota.TrackedIDsFunc {
	return func() quota.TrackedIDs {
		ctx := context.Background()
		ids, err := store.ReadTx(ctx, st, func(tx *sql.Tx) (quota.TrackedIDs, error) {
			users, err := store.ListDistinctQuotaIDs(tx, types.IDTypeUser)
			if err != nil {
				return quota.TrackedIDs{}, err
			}
			groups, err := store.ListDistinctQuotaIDs(tx, types.IDTypeGroup)
			if err != nil {
				return quota.TrackedIDs{}, err
			}
			return quota.TrackedIDs{Users: users, Groups: groups}, nil
		})
		if err != nil {
			log.WithComponent("quota").Warn().Err(err).Msg("failed to resolve tracked quota ids, skipping this cycle")
			return quota.TrackedIDs{}
		}
		return ids
	}
}

// Run starts every listener and background task, reports readiness, and
// blocks until ctx is canceled or a subsystem fails. Before returning it
// shuts every subsystem down, waiting up to 30 seconds (independent of
// ctx) for outstanding run-state handles to be released.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 3)

	tcpLis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("listen tcp on port %d: %w", a.cfg.ListenPort, err)
	}

	go func() {
		if err := a.pool.Serve(ctx, tcpLis, a.dispatcher); err != nil {
			errCh <- fmt.Errorf("legacy tcp listener: %w", err)
		}
	}()
	go func() {
		if err := a.pool.ServeUDP(ctx, a.udpConn, a.dispatcher); err != nil {
			errCh <- fmt.Errorf("legacy udp listener: %w", err)
		}
	}()
	go func() {
		if err := a.rpcServer.Start(); err != nil {
			errCh <- fmt.Errorf("structured rpc server: %w", err)
		}
	}()

	a.switchoverTask.Start(ctx)
	if a.cfg.Quota.Enabled {
		a.quotaTask.Start(ctx)
	}

	a.startMetricsServer()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("dispatch", true, "")
	metrics.RegisterComponent("rpc", true, "")
	a.logger.Info().Uint16("port", a.cfg.ListenPort).Str("rpc_addr", a.cfg.RPC.ListenAddr).Msg("mgmtd ready")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.logger.Error().Err(err).Msg("subsystem failed, shutting down")
		a.shutdown()
		return err
	}

	a.shutdown()
	return nil
}

// shutdown drives the run-state controller through PreShutdown then
// Shutdown, stopping the periodic tasks and the structured RPC server
// along the way, then closes the metrics server, the store and the UDP
// socket. The legacy TCP listener closes once ctx is canceled; when a
// subsystem failure triggers shutdown, ctx may still be live here.
func (a *App) shutdown() {
	a.runState.PreShutdown()
	a.logger.Info().Msg("pre-shutdown: waiting for clients to observe current topology")

	a.switchoverTask.Stop()
	a.quotaTask.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		ticker := time.NewTicker(staleClientSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-ticker.C:
				a.logger.Info().Msg("still draining in-flight work")
			}
		}
	}()

	if err := a.runState.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("shutdown deadline exceeded waiting for in-flight work")
	}
	cancel()
	<-drainDone

	a.rpcServer.Stop()

	if a.metricsServer != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := a.metricsServer.Shutdown(stopCtx); err != nil {
			a.logger.Warn().Err(err).Msg("metrics server shutdown error")
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("store close error")
	}
	a.udpConn.Close()

	a.logger.Info().Msg("shutdown complete")
}

// startMetricsServer serves Prometheus metrics and the health/ready/live
// endpoints on the loopback metrics address, mirroring the teacher's
// separate metrics HTTP listener.
func (a *App) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	a.metricsServer = &http.Server{Addr: metricsListenAddr, Handler: mux}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
}
