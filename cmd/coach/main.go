// Command coach runs a coaching session against the agent using the local
// microphone and speakers. It is the development counterpart of the /live
// websocket endpoint: same session pipeline, local devices instead of a
// browser client.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/YingzeHou/kinetiq-media-service/internal/capture"
	"github.com/YingzeHou/kinetiq-media-service/internal/config"
	"github.com/YingzeHou/kinetiq-media-service/internal/session"
	"github.com/YingzeHou/kinetiq-media-service/internal/transport"
)

const captureRate = 48000

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load .env file: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	dialer := &transport.AgentDialer{
		URL:       cfg.Agent.URL,
		APIKey:    cfg.Agent.APIKey,
		Model:     cfg.Agent.Model,
		QueueSize: cfg.Agent.OutboundQueue,
		Logger:    logger,
	}

	speaker, err := capture.OpenSpeaker(cfg.Audio.PlaybackRate, cfg.Audio.BlockSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open speakers: %v\n", err)
		os.Exit(1)
	}
	defer speaker.Close()

	mgr := session.NewManager(cfg, dialer, nil, logger)
	defer mgr.Stop()

	sess, err := mgr.CreateSession(session.CreateParams{
		Acquirer: &capture.LocalMedia{
			SampleRate: captureRate,
			BlockSize:  cfg.Audio.BlockSize,
			Logger:     logger,
		},
		Sink:  speaker,
		Clock: speaker,
		Callbacks: session.Callbacks{
			OnState: func(state session.State, kind session.ErrorKind) {
				if kind != session.ErrorNone {
					fmt.Printf("[%s: %s]\n", state, kind)
					return
				}
				fmt.Printf("[%s]\n", state)
			},
			OnTranscript: func(text string) {
				fmt.Printf("coach: %s\n", text)
			},
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start session: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Session %s started. Ctrl+C to end.\n", sess.ID())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\nEnding session...")
	case <-sess.Done():
	}

	sess.Close()
	<-sess.Done()

	info := sess.GetInfo()
	fmt.Printf("Session ended in state %s after %s.\n", info.State, info.Duration.Round(time.Second))
	if info.Transcript != "" {
		fmt.Printf("Transcript:\n%s\n", info.Transcript)
	}
}
