package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/voicenote/internal/config"
	"github.com/teslashibe/voicenote/pkg/audioio"
	"github.com/teslashibe/voicenote/pkg/notes"
	"github.com/teslashibe/voicenote/pkg/voice"
)

const saveTimeout = 30 * time.Second

type assistFlags struct {
	language   string
	backend    string
	noPlayback bool
	noSave     bool
}

func newAssistCmd() *cobra.Command {
	var f assistFlags
	cmd := &cobra.Command{
		Use:   "assist",
		Short: "Take meeting notes from the microphone",
		Long: `Connect to the voice service, start a note-taking session and stream the
microphone until Ctrl-C. The note is then saved to ~/.voicenote/notes and,
when configured, to Google Docs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if f.language != "" {
				cfg.Notes.Language = f.language
			}
			if f.backend != "" {
				b, err := audioio.ParseBackend(f.backend)
				if err != nil {
					return err
				}
				cfg.Audio.Backend = b
			}
			if f.noPlayback {
				cfg.Playback = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runAssist(cmd.Context(), cmd.OutOrStdout(), cfg, logger, !f.noSave)
		},
	}
	cmd.Flags().StringVar(&f.language, "lang", "", "assistant reply language: en or vi")
	cmd.Flags().StringVar(&f.backend, "backend", "", "audio backend: auto, callback, blocking, mock")
	cmd.Flags().BoolVar(&f.noPlayback, "no-playback", false, "do not play assistant audio")
	cmd.Flags().BoolVar(&f.noSave, "no-save", false, "do not save the note on exit")
	return cmd
}

func runAssist(ctx context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger, save bool) error {
	tokens, err := tokenProvider(logger)
	if err != nil {
		return err
	}

	agent := notes.NewMeetingAgent(nil, notes.Language(cfg.Notes.Language), logger)
	agent.OnUpdate(func(d notes.MeetingNoteData) {
		fmt.Fprintf(out, "\r\033[K📝 %s | attendees: %s | %d action items\n",
			orDash(d.MeetingTitle), orDash(strings.Join(d.Attendees, ", ")), len(d.ActionItems))
	})

	vcfg := agent.Config()
	record := vcfg.Handlers.Writing
	vcfg.Handlers.Writing = func(ev voice.TranscriptEvent) {
		record(ev)
		fmt.Fprintf(out, "\r\033[K[%s] %s: %s\n", ev.Elapsed.Round(time.Second), ev.Role, ev.Text)
	}

	player := newPlayer(cfg, logger)
	player.Start(ctx)
	defer player.Close()

	meter := &levelMeter{}
	a, err := voice.New(vcfg,
		voice.WithURL(cfg.API.URL),
		voice.WithTokenSource(tokens),
		voice.WithCaptureConfig(cfg.Audio),
		voice.WithCaptureFactory(meter.factory(audioio.NewCaptureSession)),
		voice.WithSpeaker(player),
		voice.WithAutoStartSession(true),
		voice.WithHandshakeTimeout(cfg.API.HandshakeTimeout),
		voice.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	feed := newStatusFeed(32)
	a.OnStatusChange(func(s voice.ConnectionStatus) {
		agent.ObserveStatus(s)
		feed.push(s)
	})

	fmt.Fprintf(out, "🎙️  voicenote %s connecting to %s\n", version, cfg.API.URL)
	if err := a.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watchStatus(gctx, out, feed)
	})
	g.Go(func() error {
		printLevels(gctx, out, a, meter)
		return nil
	})
	runErr := g.Wait()

	_ = a.Disconnect()
	fmt.Fprintln(out, "\r\033[K👋 Session ended")

	stats := a.Stats()
	logger.Info("session stats",
		"frames_sent", stats.FramesSent,
		"frames_dropped", stats.FramesDropped,
		"events", stats.EventsReceived,
		"tool_calls", stats.ToolCalls,
		"playback", player.Stats(),
	)

	if save {
		if err := saveNote(out, cfg, agent, tokens, logger); err != nil {
			return err
		}
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// statusFeed carries status changes to watchStatus without blocking the
// assistant. Intermediate statuses may be dropped when the buffer is full;
// the disconnect is always delivered through lost.
type statusFeed struct {
	ch   chan voice.ConnectionStatus
	lost chan struct{}
	once sync.Once
}

func newStatusFeed(size int) *statusFeed {
	return &statusFeed{
		ch:   make(chan voice.ConnectionStatus, size),
		lost: make(chan struct{}),
	}
}

func (f *statusFeed) push(s voice.ConnectionStatus) {
	if s.State == voice.StateDisconnected {
		f.once.Do(func() { close(f.lost) })
	}
	select {
	case f.ch <- s:
	default:
	}
}

var errConnectionLost = errors.New("connection to voice service lost")

// watchStatus prints state changes and fails when the service drops the
// connection.
func watchStatus(ctx context.Context, out io.Writer, feed *statusFeed) error {
	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-feed.lost:
			return errConnectionLost
		case s := <-feed.ch:
			if s.Error != "" && s.Error != lastErr {
				fmt.Fprintf(out, "\r\033[K⚠️  %s\n", s.Error)
			}
			lastErr = s.Error

			switch s.State {
			case voice.StateRecording:
				fmt.Fprintln(out, "\r\033[K🔴 Recording, press Ctrl-C to finish")
			case voice.StateDisconnected:
				return errConnectionLost
			}
		}
	}
}

func printLevels(ctx context.Context, out io.Writer, a *voice.Assistant, meter *levelMeter) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := a.Status()
			if !st.IsRecording {
				continue
			}
			stats := a.Stats()
			fmt.Fprintf(out, "\r\033[K%s %s  sent %d  dropped %d",
				st.State, meter.bar(20), stats.FramesSent, stats.FramesDropped)
		}
	}
}

func newPlayer(cfg *config.Config, logger *slog.Logger) *audioio.Player {
	var sink audioio.Sink = audioio.DiscardSink{}
	if cfg.Playback {
		s, err := audioio.NewOtoSink(logger)
		if err != nil {
			logger.Warn("playback unavailable, assistant audio is muted", "error", err)
		} else {
			sink = s
		}
	}
	return audioio.NewPlayer(sink, 64, logger)
}

func saveNote(out io.Writer, cfg *config.Config, agent *notes.MeetingAgent, tokens voice.TokenSource, logger *slog.Logger) error {
	token, err := tokens.GetOrCreateToken()
	if err != nil {
		return err
	}
	note, err := agent.Recorder().Save(token)
	if errors.Is(err, notes.ErrNoSession) {
		fmt.Fprintln(out, "Nothing was recorded, no note saved")
		return nil
	}
	if err != nil {
		return err
	}

	sinks := []notes.Sink{notes.NewFileSink(cfg.Notes.Dir)}
	if cfg.Notes.GoogleDocs {
		g, err := googleSink(cfg)
		switch {
		case err != nil:
			logger.Warn("google docs sink unavailable", "error", err)
		case !g.Authenticated():
			fmt.Fprintln(out, "Google Docs is not connected, run `voicenote notes auth`")
		default:
			sinks = append(sinks, g)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	var saved int
	for _, s := range sinks {
		loc, err := s.Save(ctx, note)
		if err != nil {
			fmt.Fprintf(out, "✗ %s: %v\n", s.Name(), err)
			continue
		}
		saved++
		fmt.Fprintf(out, "✓ Saved %q to %s: %s\n", note.Title, s.Name(), loc)
	}
	if saved == 0 {
		return fmt.Errorf("note %q was not saved", note.Title)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
