package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/lapse-go/internal/api"
	"github.com/tonimelisma/lapse-go/internal/upload"
)

const flagDevelopInDays = "develop-in-days"

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Publish photos to the journal",
		Long: `Publish one or more photos to the journal, one at a time.

Each file goes through three requests: obtain an upload target, transfer the
bytes, register the media record. Nothing is retried; a failed file can be
uploaded again and gets a fresh attempt identifier. Every attempt is recorded
in the local history.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runUpload,
	}

	cmd.Flags().Int(flagDevelopInDays, 0, "days until the photo develops (default from config)")

	return cmd
}

// uploadResult is one element of the `upload --json` output.
type uploadResult struct {
	Path    string `json:"path"`
	Size    int    `json:"size"`
	MediaID string `json:"media_id,omitempty"`
	Stage   string `json:"failed_stage,omitempty"`
	Error   string `json:"error,omitempty"`
}

func runUpload(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	days := cc.Cfg.Watch.DevelopInDays
	if cmd.Flags().Changed(flagDevelopInDays) {
		days, _ = cmd.Flags().GetInt(flagDevelopInDays)
	}

	s, err := newSession(cc)
	if err != nil {
		return err
	}

	var recorder upload.Recorder
	if history := openHistoryOrWarn(ctx, cc); history != nil {
		defer history.Close()
		recorder = history
	}

	uploader := s.uploader(cc, recorder)

	results := make([]uploadResult, 0, len(args))

	var errs []error

	for _, arg := range args {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: %w", arg, ctx.Err()))
			break
		}

		res, err := uploadOne(ctx, cc, uploader, arg, days)
		results = append(results, res)

		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", arg, err))
			continue
		}

		cc.Statusf("Uploaded %s (%s) as %s\n", arg, formatSize(int64(res.Size)), res.MediaID)
	}

	if cc.Flags.JSON {
		if err := printJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	}

	err = errors.Join(errs...)
	if errors.Is(err, api.ErrNotLoggedIn) {
		return fmt.Errorf("not logged in, run 'lapse-go login' first: %w", err)
	}

	return err
}

// uploadOne reads and publishes a single file. The absolute path is recorded
// as the attempt source so the watcher's history check sees it.
func uploadOne(ctx context.Context, cc *CLIContext, uploader *upload.Uploader, arg string, days int) (uploadResult, error) {
	res := uploadResult{Path: arg}

	path, err := filepath.Abs(arg)
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("resolving path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("reading file: %w", err)
	}

	res.Size = len(data)

	cc.Logger.Debug("uploading file", slog.String("path", path), slog.Int("size", len(data)))

	mediaID, err := uploader.UploadFrom(ctx, path, data, days)
	if err != nil {
		res.Error = err.Error()

		var se *upload.StageError
		if errors.As(err, &se) {
			res.Stage = string(se.Stage)
		}

		return res, err
	}

	res.MediaID = mediaID

	return res, nil
}
