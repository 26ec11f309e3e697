// Command mirror connects to a mirrored device's video, audio, and control
// sockets (spec.md §6) and runs the streaming pipeline until interrupted.
// Configuration is environment-variable overrides only; command-line
// parsing is explicitly out of scope (spec.md §1) and left to an external
// wrapper.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/zsiec/mirror/internal/engine"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	deviceAddr := envOr("DEVICE_ADDR", "127.0.0.1")
	videoPort := envOr("VIDEO_PORT", "27183")
	audioPort := envOr("AUDIO_PORT", "27184")
	controlPort := envOr("CONTROL_PORT", "27185")
	audioEnabled := envOr("AUDIO_ENABLED", "1") != "0"
	recordFilename := envOr("RECORD_FILE", "")
	recordFormat := envOr("RECORD_FORMAT", "")

	videoConn, err := net.Dial("tcp", net.JoinHostPort(deviceAddr, videoPort))
	if err != nil {
		slog.Error("failed to connect video socket", "error", err)
		os.Exit(1)
	}
	defer videoConn.Close()

	var audioConn net.Conn
	if audioEnabled {
		audioConn, err = net.Dial("tcp", net.JoinHostPort(deviceAddr, audioPort))
		if err != nil {
			slog.Error("failed to connect audio socket", "error", err)
			os.Exit(1)
		}
		defer audioConn.Close()
	}

	controlConn, err := net.Dial("tcp", net.JoinHostPort(deviceAddr, controlPort))
	if err != nil {
		slog.Error("failed to connect control socket", "error", err)
		os.Exit(1)
	}
	defer controlConn.Close()

	cfg := engine.Config{
		VideoConn:      videoConn,
		ControlConn:    controlConn,
		RecordFilename: recordFilename,
		RecordFormat:   recordFormat,
		VideoDelay:     durationMS(envOr("VIDEO_DELAY_MS", "0")),
		AudioDelay:     durationMS(envOr("AUDIO_DELAY_MS", "0")),
		FirstFrameASAP: envOr("FIRST_FRAME_ASAP", "1") != "0",
		Log:            slog.Default(),
	}
	if audioConn != nil {
		cfg.AudioConn = audioConn
	}

	slog.Info("mirror starting",
		"device", deviceAddr,
		"video_port", videoPort,
		"audio_port", audioPort,
		"control_port", controlPort,
		"audio_enabled", audioEnabled,
	)

	if err := engine.New(cfg).Run(ctx); err != nil {
		slog.Error("engine error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationMS(s string) time.Duration {
	ms, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
