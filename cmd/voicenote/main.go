// voicenote: real-time meeting notes from the microphone.
//
// The assistant streams microphone audio to the voice service, prints the
// transcript as it arrives and keeps structured meeting notes that are
// saved when the session ends.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/voicenote/internal/config"
	"github.com/teslashibe/voicenote/internal/log"
	"github.com/teslashibe/voicenote/pkg/identity"
)

var version = "0.1.0"

// Shared CLI flags
var (
	cfgFile  string
	logLevel string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "voicenote",
		Short:   "Real-time voice meeting notes",
		Version: version,
		Long: `voicenote streams your microphone to the voice service and keeps
meeting notes up to date while you talk.

Configuration is read from ~/.voicenote/config.yaml (or --config), then .env,
then VOICENOTE_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.voicenote/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newAssistCmd(),
		newUploadCmd(),
		newTokenCmd(),
		newNotesCmd(),
	)
	return root
}

// loadConfig loads configuration and initializes logging.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log.Init(cfg.LogLevel)
	return cfg, log.L(), nil
}

func tokenProvider(logger *slog.Logger) (*identity.TokenProvider, error) {
	store, err := identity.DefaultStore(logger)
	if err != nil {
		return nil, err
	}
	return identity.New(store, logger), nil
}
