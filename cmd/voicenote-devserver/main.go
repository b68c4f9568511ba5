// voicenote-devserver: local stand-in for the voice backend.
// Speaks the /voice Socket.IO protocol and accepts recording uploads.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/voicenote/internal/config"
	"github.com/teslashibe/voicenote/internal/devserver"
	"github.com/teslashibe/voicenote/internal/log"
)

var (
	version    = "0.1.0"
	configFile = flag.String("config", "", "config file (default ~/.voicenote/config.yaml)")
	addr       = flag.String("addr", "", "listen address (overrides dev_server.addr)")
	token      = flag.String("token", "", "only accept this token")
	interval   = flag.Duration("interval", 0, "gap between scripted transcript lines")
	debug      = flag.Bool("debug", false, "enable debug logging and request logs")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	log.Init(cfg.LogLevel)

	if *addr != "" {
		cfg.DevServer.Addr = *addr
	}
	if *interval > 0 {
		cfg.DevServer.WritingInterval = *interval
	}

	fmt.Println()
	fmt.Println("🧪 voicenote dev server v" + version)
	fmt.Printf("   /voice on %s, writing every %s\n", cfg.DevServer.Addr, cfg.DevServer.WritingInterval)
	fmt.Println()

	srv := devserver.New(devserver.Config{
		Addr:            cfg.DevServer.Addr,
		WritingInterval: cfg.DevServer.WritingInterval,
		Token:           *token,
		Debug:           *debug,
		Logger:          log.L(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped", "uptime", time.Since(start).Round(time.Second), "uploads", len(srv.Uploads()))
}
