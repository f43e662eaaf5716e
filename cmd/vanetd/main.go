// Command vanetd runs one mesh node (RSU or OBU) per a YAML configuration
// file: binds the configured interface as the mesh wire, opens a separate
// local TAP device, and relays frames between them according to the
// mesh's routing and forwarding rules until terminated.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cvsouth/vanet-mesh/aead"
	"github.com/cvsouth/vanet-mesh/config"
	"github.com/cvsouth/vanet-mesh/iotap"
	"github.com/cvsouth/vanet-mesh/node"
)

func main() {
	configPath := flag.String("config", "/etc/vanetd/node.yaml", "path to node YAML configuration")
	flag.Parse()

	logger, logFile := setupLogging()
	defer func() { _ = logFile.Close() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cipher, err := buildCipher(cfg)
	if err != nil {
		logger.Error("failed to construct encryption cipher", "error", err)
		os.Exit(1)
	}

	wireIO, err := iotap.OpenWireSocket(cfg.Interface)
	if err != nil {
		logger.Error("failed to open wire socket", "interface", cfg.Interface, "error", err)
		os.Exit(1)
	}
	defer func() { _ = wireIO.Close() }()

	tapIO, err := iotap.OpenTap(tapName(cfg))
	if err != nil {
		logger.Error("failed to open tap device", "error", err)
		os.Exit(1)
	}
	defer func() { _ = tapIO.Close() }()

	n, err := node.New(node.Config{
		OurMAC:          cfg.ParsedMAC,
		IsRSU:           cfg.Role == config.RoleRSU,
		HelloHistory:    cfg.HelloHistory,
		Candidates:      cfg.Candidates,
		MaxHops:         cfg.MaxHops,
		HeartbeatPeriod: cfg.HeartbeatInt,
	}, wireIO, tapIO, cipher, logger)
	if err != nil {
		logger.Error("failed to construct node", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("node starting", "role", cfg.Role, "mac", cfg.ParsedMAC, "interface", cfg.Interface)
	if err := n.Run(ctx); err != nil {
		logger.Error("node exited with error", "error", err)
		os.Exit(1)
	}
}

// tapName derives the host TAP device name from the node's configured
// role: "vanet-rsu" or "vanet-obu". The wire interface name plays no part
// in it.
func tapName(cfg *config.NodeConfig) string {
	return "vanet-" + string(cfg.Role)
}

// buildCipher constructs the forwarding plane's AEAD cipher from the
// configured static key-agreement material, or returns a nil Cipher
// (encryption disabled) when cfg.Encryption.Enabled is false.
func buildCipher(cfg *config.NodeConfig) (aead.Cipher, error) {
	if !cfg.Encryption.Enabled {
		return nil, nil
	}
	priv, err := decodeKey32(cfg.Encryption.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("private_key_hex: %w", err)
	}
	peerPub, err := decodeKey32(cfg.Encryption.PeerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("peer_public_key_hex: %w", err)
	}
	sessionKey, err := aead.DeriveSessionKey(priv, peerPub, cfg.ParsedMAC, cfg.ParsedPeerMAC)
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return aead.NewChaCha20Poly1305(sessionKey)
}

func decodeKey32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func setupLogging() (*slog.Logger, *os.File) {
	logFile, err := os.OpenFile("vanetd.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	stdoutHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(&multiHandler{handlers: []slog.Handler{fileHandler, stdoutHandler}})
	return logger, logFile
}

// multiHandler fans out slog records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}
