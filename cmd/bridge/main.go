package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/esp32-bridge/bridge/api/handlers"
	"github.com/esp32-bridge/bridge/internal/buffer"
	"github.com/esp32-bridge/bridge/internal/config"
	"github.com/esp32-bridge/bridge/internal/relay"
	"github.com/esp32-bridge/bridge/internal/serial"
	"github.com/esp32-bridge/bridge/internal/transcript"
	"github.com/esp32-bridge/bridge/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Recent device events, replayed to newly connected clients.
	var history *buffer.LineBuffer
	if cfg.HistoryBytes > 0 {
		history = buffer.NewLineBuffer(cfg.HistoryBytes)
	}

	// Optional traffic transcript.
	var tw *transcript.Writer
	if cfg.Transcript != "" {
		tw, err = transcript.New(cfg.Transcript)
		if err != nil {
			log.Fatalf("Failed to create transcript: %v", err)
		}
		defer tw.Close()

		if err := tw.WriteHeader(cfg.SerialPort, cfg.BaudRate); err != nil {
			log.Fatalf("Failed to write transcript header: %v", err)
		}
	}

	// Serial link to the device.
	link, err := serial.NewLink(serial.Config{
		PortName: cfg.SerialPort,
		BaudRate: cfg.BaudRate,
	})
	if err != nil {
		log.Fatalf("Failed to create serial link: %v", err)
	}
	defer link.Close()

	// Client registry and relay engine.
	hub := ws.NewHub()
	engine := relay.NewEngine(link, hub, history, tw)

	link.LineCallback = engine.OnSerialLine
	link.StateCallback = func(connected bool) {
		if !connected {
			log.Printf("Serial connection lost, reconnecting")
		}
	}
	hub.SetOnMessage(engine.OnClientMessage)

	go link.Run(ctx)

	// WebSocket endpoint. Every path upgrades, no routing.
	wsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WSPort),
		Handler: ws.NewHandler(hub, history),
	}
	go func() {
		log.Printf("WebSocket server listening on ws://localhost:%d", cfg.WSPort)
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("WebSocket server failed: %v", err)
		}
	}()

	// Static file collaborator with status API, unless disabled.
	var staticServer *http.Server
	if !cfg.NoStatic {
		statusHandler := handlers.NewStatusHandler(func() handlers.Status {
			return handlers.Status{
				SerialConnected: link.Connected(),
				SerialPort:      link.PortName(),
				BaudRate:        link.BaudRate(),
				ClientCount:     hub.ClientCount(),
			}
		})

		staticServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.StaticPort),
			Handler: handlers.NewStaticRouter(cfg.StaticDir, statusHandler),
		}
		go func() {
			log.Printf("Serving static files on http://localhost:%d", cfg.StaticPort)
			if err := staticServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("Static server failed: %v", err)
			}
		}()
	}

	log.Printf("Bridge started. Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	wsServer.Shutdown(shutdownCtx)
	if staticServer != nil {
		staticServer.Shutdown(shutdownCtx)
	}
	hub.Close()
}
