// Command groupsync hosts the sync engine as a standalone process for
// operating and inspecting a study group: it wires a store backend, signs in
// with the configured identity, and logs every state transition the view
// model emits. The engine itself is a library; all semantics live under
// internal/, and embedding hosts wire it the same way this binary does.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/studykit/groupsync/internal/config"
	"github.com/studykit/groupsync/internal/engine"
	"github.com/studykit/groupsync/internal/logger"
	"github.com/studykit/groupsync/internal/ratelimit"
	"github.com/studykit/groupsync/internal/session"
	"github.com/studykit/groupsync/internal/store"
	"github.com/studykit/groupsync/internal/store/memstore"
	"github.com/studykit/groupsync/internal/store/mongostore"
	"github.com/studykit/groupsync/internal/store/redistore"
	"github.com/studykit/groupsync/internal/view"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logger.New(cfg.LogDev)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx := context.Background()

	// Select the store backend.
	var st store.Client
	switch cfg.Store.Backend {
	case "memory":
		st = memstore.New()
	case "mongo":
		ms, err := mongostore.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database, zlog)
		if err != nil {
			zlog.Fatal("connect mongo store", zap.Error(err))
		}
		defer func() { _ = ms.Close(context.Background()) }()
		if err := ms.EnsureIndexes(ctx); err != nil {
			zlog.Fatal("ensure indexes", zap.Error(err))
		}
		st = ms
	case "redis":
		rs, err := redistore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix, zlog)
		if err != nil {
			zlog.Fatal("connect redis store", zap.Error(err))
		}
		defer func() { _ = rs.Close() }()
		st = rs
	}

	// Establish identity. A provider-issued token is preferred; a bare uid
	// is accepted for demo runs against the memory backend.
	sess := session.NewContext()
	switch {
	case cfg.Session.Token != "":
		if cfg.Session.Secret == "" {
			zlog.Fatal("session.secret is required to verify session.token")
		}
		verifier := session.NewVerifier(cfg.Session.Secret, 24*time.Hour)
		if err := sess.SignInWithToken(verifier, cfg.Session.Token); err != nil {
			zlog.Fatal("sign in", zap.Error(err))
		}
	case cfg.Session.UID != "":
		sess.SetUser(&session.User{UID: cfg.Session.UID})
	default:
		zlog.Warn("no identity configured; running signed out")
	}

	limiter := ratelimit.NewLimiterStore(cfg.Reactions.PerMinute, cfg.Reactions.Burst, time.Minute)
	defer limiter.Stop()

	vm, err := view.New(st, sess, limiter, zlog, func(s view.State) {
		fields := []zap.Field{
			zap.Int("messages", len(s.Messages)),
			zap.Int("ranked", len(s.Leaderboard)),
			zap.Float64("group_minutes", s.Totals.MinutesStudied),
			zap.String("group_time", engine.FormatHMS(s.Totals.MinutesStudied)),
			zap.Bool("leaderboard_visible", s.ShowLeaderboard()),
		}
		if s.ShowSharedCoins() {
			fields = append(fields, zap.Int64("group_coins", s.Totals.Coins))
		}
		zlog.Info("state updated", fields...)
	})
	if err != nil {
		zlog.Fatal("compose view model", zap.Error(err))
	}
	defer vm.Close()

	if u, ok := sess.CurrentUser(); ok {
		zlog.Info("running", zap.String("backend", cfg.Store.Backend), zap.String("uid", u.UID))
	} else {
		zlog.Info("running", zap.String("backend", cfg.Store.Backend))
	}

	// Block until interrupted; subscriptions keep the state current.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	zlog.Info("shutting down")
}
