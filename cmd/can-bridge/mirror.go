package main

import (
	"log/slog"

	"github.com/uscpte7/CAN-Bus1/internal/can"
	"github.com/uscpte7/CAN-Bus1/internal/cnl"
	"github.com/uscpte7/CAN-Bus1/internal/hub"
	"github.com/uscpte7/CAN-Bus1/internal/server"
)

// injector queues a frame on a bus channel; *bridge.Machine implements it.
type injector interface {
	Inject(ch int, f can.Frame) bool
}

func initHub(cfg *appConfig, l *slog.Logger) *hub.Hub {
	h := hub.New()
	h.OutBufSize = cfg.hubBuffer
	h.Channel = cfg.mirrorChannel
	p, err := hub.ParsePolicy(cfg.hubPolicy)
	if err != nil {
		l.Warn("unknown_hub_policy", "policy", cfg.hubPolicy, "used", p.String())
	}
	h.Policy = p
	l.Info("hub_config", "policy", h.Policy.String(), "buffer", h.OutBufSize, "channel", h.Channel)
	return h
}

// injectFunc adapts m to the server's inject hook for channel ch.
func injectFunc(m injector, ch int) server.InjectFunc {
	return func(f can.Frame) error {
		if !m.Inject(ch, f) {
			return server.ErrInjectDropped
		}
		return nil
	}
}

func newMirrorServer(cfg *appConfig, h *hub.Hub, m injector, l *slog.Logger) *server.Server {
	opts := []server.ServerOption{
		server.WithListenAddr(cfg.mirrorAddr),
		server.WithHub(h),
		server.WithCodec(&cnl.Codec{}),
		server.WithLogger(l.With("component", "mirror")),
		server.WithMaxClients(cfg.maxClients),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReadDeadline(cfg.clientReadTO),
		server.WithBatchSize(cfg.mirrorBatch),
		server.WithFlushInterval(cfg.mirrorFlush),
		server.WithWriteDeadline(cfg.mirrorWriteTO),
	}
	if cfg.injectChannel > 0 {
		opts = append(opts, server.WithInject(injectFunc(m, cfg.injectChannel)))
	}
	return server.NewServer(opts...)
}
