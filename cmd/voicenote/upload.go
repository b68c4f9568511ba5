package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/voicenote/pkg/notes"
)

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload recordings to the note service",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			tokens, err := tokenProvider(logger)
			if err != nil {
				return err
			}

			u := notes.NewUploader(cfg.UploadBase(), tokens, logger)
			var failed int
			for _, path := range args {
				resp, err := u.UploadFile(cmd.Context(), path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %s\n", path, resp.Message)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(args))
			}
			return nil
		},
	}
}
