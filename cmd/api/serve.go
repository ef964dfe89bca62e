package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory"
	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/repo"
	"github.com/ovaphlow/pitchfork/service-directory-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-directory-go/internal/viewer"
	"github.com/ovaphlow/pitchfork/service-directory-go/pkg/database"
)

func serve(parent context.Context, addr string) error {
	if parent == nil {
		parent = context.Background()
	}
	lg, err := newLogger()
	if err != nil {
		return err
	}
	defer lg.Sync()
	sugar := lg.Sugar()
	sugar.Infow("starting directory service", "addr", addr)

	cfg, err := directory.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("directory config: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := directory.NewMetrics(reg)

	// init db
	dbCfg := database.ConfigFromEnv()
	sqlDB, err := database.Connect(dbCfg)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer sqlDB.Close()
	sqlxDB := sqlx.NewDb(sqlDB, "postgres")

	var secondary directory.Source
	if rc := repo.RESTConfigFromEnv(); rc.BaseURL != "" {
		secondary = repo.NewRESTSource(rc, nil)
	} else {
		sugar.Warnw("DOCUMENTS_URL not set, secondary profile source disabled")
	}
	var avatars directory.AvatarResolver
	if sa := repo.StorageAvatarsFromEnv(&http.Client{Timeout: 5 * time.Second}); sa != nil {
		avatars = sa
	}
	normalizer := directory.NewNormalizer(avatars, nil, cfg, sugar)
	fetcher := directory.NewFetcher(repo.NewProfileRepo(sqlxDB), secondary, normalizer, cfg, metrics, sugar)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	presence, closePresence, err := openPresence(ctx, dbCfg, sugar)
	if err != nil {
		return err
	}
	defer closePresence()

	verifier, err := viewer.VerifierFromEnv()
	if err != nil {
		return fmt.Errorf("viewer verifier: %w", err)
	}
	if verifier == nil {
		sugar.Infow("no viewer key configured, every viewer is anonymous")
	}

	svc := directory.NewService(cfg, fetcher, presence, metrics, sugar)
	svcDone := make(chan struct{})
	go func() {
		defer close(svcDone)
		svc.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              addr,
		Handler:           router.RegisterRoutes(sugar, directory.NewHandler(svc, verifier, sugar), reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	sugar.Info("service is running; press Ctrl+C to stop")
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			sugar.Errorw("http server failed", "err", err)
			stop()
		}
	}

	sugar.Info("shutting down")
	// sessions close first so event streams end and Shutdown can drain
	<-svcDone

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnw("http server shutdown failed", "err", err)
	}
	sugar.Info("goodbye")
	return nil
}

// openPresence builds the presence transport chosen by PRESENCE_TRANSPORT
// (pg, nats or none).
func openPresence(ctx context.Context, dbCfg database.Config, logger *zap.SugaredLogger) (directory.PresenceSource, func(), error) {
	switch transport := envOr("PRESENCE_TRANSPORT", "pg"); transport {
	case "none":
		logger.Infow("presence sync disabled")
		return nil, func() {}, nil
	case "nats":
		nc, js, err := connectJetStream(logger)
		if err != nil {
			return nil, nil, err
		}
		p, err := repo.NewNATSPresence(ctx, js, os.Getenv("PRESENCE_BUCKET"), logger)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return p, nc.Close, nil
	case "pg":
		l, err := database.NewListener(dbCfg, logger, repo.PresenceChannel)
		if err != nil {
			return nil, nil, fmt.Errorf("presence listener: %w", err)
		}
		p := repo.NewPGPresence(l, logger)
		return p, func() {
			p.Close()
			_ = l.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown PRESENCE_TRANSPORT %q", transport)
	}
}

func connectJetStream(logger *zap.SugaredLogger) (*nats.Conn, jetstream.JetStream, error) {
	url := envOr("NATS_URL", nats.DefaultURL)
	nc, err := nats.Connect(url,
		nats.Name("directory"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnw("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infow("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
