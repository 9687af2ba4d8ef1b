package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/lapse-go/internal/watch"
)

// errNoWatchDir is returned when neither an argument nor watch.dir names a directory.
var errNoWatchDir = errors.New("no directory to watch: pass one as an argument or set watch.dir in the config file")

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Upload new photos as they appear in a directory",
		Long: `Watch a directory and publish each new photo once it has stopped changing.

Only files created while the watcher runs are considered. Files already in
the upload history are skipped. Runs until interrupted; only one watcher may
run per data directory.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{watchDirArgAnnotation: "true"},
		RunE:        runWatch,
	}

	cmd.Flags().Int(flagDevelopInDays, 0, "days until each photo develops (default from config)")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Cfg.Watch.Dir == "" {
		return errNoWatchDir
	}

	days := cc.Cfg.Watch.DevelopInDays
	if cmd.Flags().Changed(flagDevelopInDays) {
		days, _ = cmd.Flags().GetInt(flagDevelopInDays)
	}

	release, err := writePIDFile(watchPIDPath(cc.Cfg))
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := shutdownContext(cmd.Context(), cc.Logger)
	defer stop()

	s, err := newSession(cc)
	if err != nil {
		return err
	}

	history, err := openHistory(ctx, cc)
	if err != nil {
		return fmt.Errorf("opening upload history: %w", err)
	}
	defer history.Close()

	w := watch.New(watch.Config{
		Dir:           cc.Cfg.Watch.Dir,
		Extensions:    cc.Cfg.Watch.Extensions,
		DevelopInDays: days,
		SettleDelay:   cc.Cfg.SettleDelay,
	}, s.uploader(cc, history), history, cc.Logger)

	out := cmd.OutOrStdout()

	w.OnResult = func(r watch.Result) {
		switch {
		case cc.Flags.JSON:
			res := uploadResult{Path: r.Path, MediaID: r.MediaID}
			if r.Err != nil {
				res.Error = r.Err.Error()
			}

			_ = printJSON(out, res)
		case r.Err != nil:
			cc.Statusf("Failed %s: %v\n", r.Path, r.Err)
		default:
			cc.Statusf("Uploaded %s as %s\n", r.Path, r.MediaID)
		}
	}

	cc.Statusf("Watching %s (Ctrl-C to stop)\n", cc.Cfg.Watch.Dir)

	return w.Run(ctx)
}
