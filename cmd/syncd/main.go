// ledgerview syncd - keeps a live, reconciled view of a financial account
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/ledgerview/internal/api"
	"github.com/mbd888/ledgerview/internal/channel"
	"github.com/mbd888/ledgerview/internal/config"
	"github.com/mbd888/ledgerview/internal/guard"
	"github.com/mbd888/ledgerview/internal/health"
	"github.com/mbd888/ledgerview/internal/logging"
	"github.com/mbd888/ledgerview/internal/metrics"
	"github.com/mbd888/ledgerview/internal/notify"
	"github.com/mbd888/ledgerview/internal/session"
	"github.com/mbd888/ledgerview/internal/state"
	"github.com/mbd888/ledgerview/internal/syncer"
	"github.com/mbd888/ledgerview/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting ledgerview syncd",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"api", cfg.APIBaseURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(context.Background()) }()

	persister, err := session.NewFilePersister(cfg.SessionFile)
	if err != nil {
		logger.Error("failed to open session storage", "error", err)
		os.Exit(1)
	}
	sessions := session.NewStore(persister, logger)

	client := api.NewClient(cfg.APIBaseURL, cfg.RequestTimeout, sessions)

	sess, err := establishSession(ctx, client, sessions, logger)
	if err != nil {
		logger.Error("failed to establish session", "error", err)
		os.Exit(1)
	}

	if decision := guard.Evaluate(sess, "", guard.LandingPath); !decision.Allow {
		logger.Error("session not admitted to dashboard", "redirect", decision.RedirectTo)
		os.Exit(1)
	}

	dispatcher := notify.NewDispatcher(logger)
	registerEffects(dispatcher, logger)

	ch := channel.New(channel.Config{
		URL:     cfg.WSURL,
		Base:    cfg.ReconnectBase,
		Cap:     cfg.ReconnectCap,
		Ceiling: cfg.ReconnectCeiling,
	}, logger)

	orch := syncer.New(client, ch, dispatcher, cfg.PollInterval, logger)
	orch.OnChannelDown(func() {
		logger.Warn("notice: live updates unavailable")
	})

	// A cleared session (logout, 401, ban) tears the whole sync down. The
	// hook can fire on a poll goroutine inside the orchestrator, so it only
	// signals; the stop itself happens below on the main goroutine.
	runCtx, shutdown := context.WithCancel(ctx)
	defer shutdown()
	sessions.OnClear(func() {
		logger.Info("session cleared, stopping sync")
		shutdown()
	})

	orch.Start(runCtx, sess)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg, orch, ch, logger)
	}

	<-runCtx.Done()
	logger.Info("shutting down")
	orch.Stop()
	sessions.Clear()
}

// establishSession reuses a persisted session when the backend still accepts
// it, otherwise logs in with LOGIN_EMAIL/LOGIN_PASSWORD.
func establishSession(ctx context.Context, client *api.Client, sessions *session.Store, logger *slog.Logger) (*session.Session, error) {
	if sess := sessions.Current(); sess != nil {
		user, err := client.Me(ctx)
		if err == nil {
			sess.User = *user
			sessions.Set(sess)
			logger.Info("resumed persisted session", "user", user.ID)
			return sess, nil
		}
		logger.Warn("persisted session rejected, logging in again", "error", err)
	}

	creds := api.Credentials{
		Email:    os.Getenv("LOGIN_EMAIL"),
		Password: os.Getenv("LOGIN_PASSWORD"),
	}
	sess, err := client.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	sessions.Set(sess)
	logger.Info("logged in", "user", sess.User.ID)
	return sess, nil
}

// registerEffects maps each transition kind to its single side effect. The
// daemon's surface is the log; a UI embedding would register toasts and
// modals here instead.
func registerEffects(d *notify.Dispatcher, logger *slog.Logger) {
	d.On(state.TransitionTransactionConfirmed, func(t state.Transition) {
		logger.Info("modal: transaction confirmed", "id", t.Transaction.ID, "amount", t.Transaction.Amount)
	})
	d.On(state.TransitionTransactionFailed, func(t state.Transition) {
		logger.Info("toast: transaction failed", "id", t.Transaction.ID)
	})
	d.On(state.TransitionTransactionRejected, func(t state.Transition) {
		logger.Info("toast: transaction rejected", "id", t.Transaction.ID)
	})
	d.On(state.TransitionTransactionSeen, func(t state.Transition) {
		logger.Info("badge: new transaction", "id", t.Transaction.ID, "status", t.Transaction.Status)
	})
	d.On(state.TransitionBalanceIncreased, func(t state.Transition) {
		logger.Info("toast: balance increased", "currency", t.Currency, "delta", t.Delta)
	})
	d.On(state.TransitionBalanceDecreased, func(t state.Transition) {
		logger.Info("toast: balance decreased", "currency", t.Currency, "delta", t.Delta)
	})
	d.On(state.TransitionAdminPresence, func(t state.Transition) {
		logger.Info("badge: admins online", "count", t.AdminCount)
	})
}

// serveMetrics exposes /metrics and /healthz on the local listener.
func serveMetrics(cfg *config.Config, orch *syncer.Orchestrator, ch *channel.Channel, logger *slog.Logger) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	registry := health.NewRegistry()
	registry.Register("channel", health.ChannelChecker(func() string { return ch.State().String() }))
	registry.Register("poll", health.PollFreshnessChecker(func() int64 {
		return orch.State().LastServerTime
	}, 3*cfg.PollInterval))

	r.GET("/metrics", metrics.Handler())
	r.GET("/healthz", func(c *gin.Context) {
		healthy, statuses := registry.CheckAll(c.Request.Context())
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"healthy": healthy, "subsystems": statuses})
	})

	if err := r.Run(cfg.MetricsAddr); err != nil {
		logger.Error("metrics listener failed", "error", err)
	}
}
