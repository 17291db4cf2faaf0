package app

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"safechat/internal/crypto"
	"safechat/internal/domain"
	"safechat/internal/metrics"
	"safechat/internal/services/connection"
	"safechat/internal/services/identity"
)

// Wire bundles the shared services for the CLI.
type Wire struct {
	Config   Config
	Logger   *logrus.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Identity *identity.Service
	Cipher   domain.Cipher
}

// NewWire constructs the dependency graph from cfg. Logs are written to
// logOut (stderr when nil).
func NewWire(cfg Config, logOut io.Writer) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := NewLogger(cfg.Log, logOut)
	if err != nil {
		return nil, err
	}
	cipher, err := crypto.CipherByName(cfg.Cipher)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Wire{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  metrics.New(reg),
		Identity: identity.New(cfg.RSABits, logger),
		Cipher:   cipher,
	}, nil
}

// NewConnection returns a connection service sharing the wire's identity
// service, cipher, logger and metrics.
func (w *Wire) NewConnection(events connection.Events) (*connection.Service, error) {
	return connection.New(connection.Options{
		Identity:         w.Identity,
		Cipher:           w.Cipher,
		Logger:           w.Logger,
		Metrics:          w.Metrics,
		DialTimeout:      w.Config.DialTimeout,
		HandshakeTimeout: w.Config.HandshakeTimeout,
		MaxFrameSize:     w.Config.MaxFrameSize,
	}, events)
}
