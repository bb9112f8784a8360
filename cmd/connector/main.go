// Command connector runs the ILP connector edge runtime: one bilateral BTP
// peer session plus the thin HTTP surface (health/ready, inbound/outbound
// ILP packet handling) that fronts it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/kshinn/ilp-connector/config"
	"github.com/kshinn/ilp-connector/internal/businesslogic"
	"github.com/kshinn/ilp-connector/internal/fulfillment"
	"github.com/kshinn/ilp-connector/internal/httpapi"
	"github.com/kshinn/ilp-connector/internal/inbound"
	"github.com/kshinn/ilp-connector/internal/outbound"
	"github.com/kshinn/ilp-connector/internal/session"
)

func main() {
	logLevel := parseLevel(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	scheme := fulfillment.FromName(cfg.FulfillmentScheme, []byte(cfg.PSK2SharedSecret))

	bizClient := businesslogic.New(cfg.BusinessLogicURL, cfg.BusinessLogicTimeout, slog.Default())
	inboundHandler := inbound.New(bizClient, scheme, cfg.BaseAddress, slog.Default())

	outboundHandler := outbound.New(nil, scheme, slog.Default())

	var peerSession *session.Session
	if cfg.PeerURL != "" {
		peerSession = session.New(session.Config{
			URL:                   cfg.PeerURL,
			PeerID:                cfg.PeerID,
			Secret:                cfg.PeerSecret,
			DefaultRequestTimeout: cfg.SessionTTL,
		}, inboundHandler, slog.Default())
		outboundHandler.SetSession(peerSession)

		slog.Info("connecting to peer", "url", cfg.PeerURL)
		if err := peerSession.Connect(context.Background()); err != nil {
			slog.Warn("initial peer connect failed, will retry via reconnection", "err", err)
		}
	} else {
		slog.Info("no PEER_URL configured, running without an active peer session")
	}

	server := httpapi.New(cfg.NodeID, peerStatus(peerSession), inboundHandler, outboundHandler, slog.Default())

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("connector starting", "addr", addr, "node_id", cfg.NodeID, "base_address", cfg.BaseAddress)
	if err := http.ListenAndServe(addr, server); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// peerStatus wraps a possibly-nil *session.Session so httpapi.New always
// receives a usable PeerSessionStatus.
func peerStatus(s *session.Session) httpapi.PeerSessionStatus {
	if s == nil {
		return nilPeer{}
	}
	return s
}

type nilPeer struct{}

func (nilPeer) IsConnected() bool { return false }

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
