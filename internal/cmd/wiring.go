package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/studytrack/internal/config"
	"github.com/danielpatrickdp/studytrack/internal/eventlog"
	"github.com/danielpatrickdp/studytrack/internal/logging"
	"github.com/danielpatrickdp/studytrack/internal/pipeline"
	"github.com/danielpatrickdp/studytrack/internal/remote"
	"github.com/danielpatrickdp/studytrack/internal/replay"
	"github.com/danielpatrickdp/studytrack/internal/store"
	"github.com/danielpatrickdp/studytrack/internal/tracker"
)

// #region app

// app holds what every subcommand opens from the configuration.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	store    store.Store
	registry prometheus.Registerer
	metrics  *pipeline.Metrics
	closers  []func() error
}

// setup loads the config named by --config and opens the logger and store.
func setup(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
		Output: cmd.ErrOrStderr(),
		Prefix: "studytrack",
	})
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.DefaultRegisterer,
		closers:  []func() error{closeLog},
	}
	a.metrics = pipeline.NewMetrics(a.registry)

	s, err := openStore(cfg.Storage)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	return a, nil
}

// Close releases everything setup and later calls opened, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// #endregion app

// #region wiring

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return store.NewSQLite(cfg.Path)
	case config.BackendBolt:
		return store.OpenBolt(cfg.Path)
	case config.BackendMemory:
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// inserter connects to the configured remote backend. Clients are lazy or
// local, so an unreachable backend surfaces on Insert, not here.
func (a *app) inserter() (remote.Inserter, error) {
	rc := a.cfg.Remote
	var sink remote.Inserter
	switch rc.Kind {
	case config.RemoteNone:
		return remote.Offline{}, nil
	case config.RemoteGRPC:
		c, err := remote.NewGRPCClient(rc.Addr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		sink = c
	case config.RemoteKafka:
		k, err := remote.NewKafkaSink(remote.KafkaConfig{Brokers: rc.Brokers, TopicPrefix: rc.TopicPrefix})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, k.Close)
		sink = k
	case config.RemoteSQL:
		s, err := remote.OpenSQLStore(rc.SQLPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		sink = s
	default:
		return nil, fmt.Errorf("unknown remote kind %q", rc.Kind)
	}
	return remote.WithTimeout(sink, rc.Timeout()), nil
}

func (a *app) pipeline(sessionID string, sink remote.Inserter) (*pipeline.Pipeline, error) {
	return pipeline.New(a.store, sessionID, sink,
		pipeline.WithLogger(a.logger),
		pipeline.WithLimiter(a.cfg.Sync.Limiter()),
		pipeline.WithMetrics(a.metrics),
	)
}

// session opens sessionID against the configured remote. A scenario the
// event log shows as still open is resumed.
func (a *app) session(cmd *cobra.Command, sessionID string) (*tracker.Session, *pipeline.Pipeline, error) {
	sink, err := a.inserter()
	if err != nil {
		return nil, nil, fmt.Errorf("connect remote: %w", err)
	}
	p, err := a.pipeline(sessionID, sink)
	if err != nil {
		return nil, nil, err
	}
	l, err := eventlog.Open(a.store, sessionID, a.logger)
	if err != nil {
		return nil, nil, err
	}
	events, err := l.Events(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	rebuilt := replay.RebuildSession(events)
	if rebuilt.Live != nil {
		a.logger.Info("resuming open scenario", "session", sessionID, "scenario", rebuilt.Live.ScenarioID)
	}

	sess, err := tracker.NewSession(sessionID, l, p,
		tracker.WithLogger(a.logger),
		tracker.WithDerivationConfig(a.cfg.Derivation.Metrics()),
		tracker.WithLive(rebuilt.Live),
	)
	if err != nil {
		return nil, nil, err
	}
	return sess, p, nil
}

// #endregion wiring
