package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/voicenote/internal/config"
	"github.com/teslashibe/voicenote/pkg/notes"
)

const authTimeout = 5 * time.Minute

func newNotesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Manage saved meeting notes",
	}
	cmd.AddCommand(newNotesListCmd(), newNotesShowCmd(), newNotesAuthCmd(), newNotesLogoutCmd())
	return cmd
}

func newNotesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved notes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			list, err := notes.NewFileSink(cfg.Notes.Dir).List()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No notes yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDATE\tDURATION\tTITLE")
			for _, n := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					n.ID,
					n.MeetingTime.Local().Format("2006-01-02 15:04"),
					time.Duration(n.Duration)*time.Second,
					n.Title,
				)
			}
			return w.Flush()
		},
	}
}

func newNotesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			n, err := notes.NewFileSink(cfg.Notes.Dir).Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), notes.Format(n))
			return nil
		},
	}
}

func googleSink(cfg *config.Config) (*notes.GoogleDocsSink, error) {
	return notes.NewGoogleDocsSink(notes.GoogleDocsConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
		TokenPath:    cfg.Google.TokenPath,
	})
}

func newNotesAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Connect Google Docs so notes are saved there too",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			sink, err := googleSink(cfg)
			if err != nil {
				return err
			}

			redirect, err := url.Parse(cfg.Google.RedirectURL)
			if err != nil || redirect.Host == "" {
				return fmt.Errorf("invalid google.redirect_url %q", cfg.Google.RedirectURL)
			}
			ln, err := net.Listen("tcp", redirect.Host)
			if err != nil {
				return fmt.Errorf("listen for OAuth callback: %w", err)
			}

			state := uuid.NewString()
			codes := make(chan string, 1)

			app := fiber.New(fiber.Config{DisableStartupMessage: true})
			callbackPath := redirect.Path
			if callbackPath == "" {
				callbackPath = "/"
			}
			app.Get(callbackPath, func(c *fiber.Ctx) error {
				if c.Query("state") != state {
					return c.Status(fiber.StatusBadRequest).SendString("State mismatch, start again.")
				}
				if e := c.Query("error"); e != "" {
					return c.Status(fiber.StatusBadRequest).SendString("Authorization failed: " + e)
				}
				select {
				case codes <- c.Query("code"):
				default:
				}
				return c.SendString("voicenote is connected to Google Docs. You can close this tab.")
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), authTimeout)
			defer cancel()

			fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to connect Google Docs:\n\n  %s\n\n", sink.AuthURL(state))

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return app.Listener(ln)
			})
			g.Go(func() error {
				defer app.ShutdownWithTimeout(time.Second)
				select {
				case code := <-codes:
					if err := sink.Exchange(ctx, code); err != nil {
						return err
					}
					logger.Info("google docs connected")
					fmt.Fprintln(cmd.OutOrStdout(), "✓ Google Docs connected")
					return nil
				case <-ctx.Done():
					if errors.Is(ctx.Err(), context.DeadlineExceeded) {
						return fmt.Errorf("timed out waiting for authorization")
					}
					return ctx.Err()
				}
			})
			return g.Wait()
		},
	}
}

func newNotesLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Disconnect Google Docs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			sink, err := googleSink(cfg)
			if err != nil {
				return err
			}
			if err := sink.Disconnect(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Google Docs disconnected")
			return nil
		},
	}
}
