package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/you-humble/amazonmain/batcher/internal/app"
	"github.com/you-humble/amazonmain/batcher/internal/queue"

	"github.com/spf13/cobra"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var retryFailed bool
	var quiet bool
	var pauseAfter int

	cmd := &cobra.Command{
		Use:   "run <image|dir>...",
		Short: "Process product photos one at a time",
		Long: "Process product photos one at a time through the finishing server.\n\n" +
			"Ctrl-C cancels the batch; a second Ctrl-C aborts immediately.\n" +
			"SIGUSR1 pauses before the next item and SIGUSR2 resumes.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := collectSources(args)
			if err != nil {
				return err
			}

			runCtx, abort := context.WithCancel(cmd.Context())
			defer abort()

			return ctx.withApp(runCtx, func(a batchApp) error {
				stopSignals := handleSignals(runCtx, a, abort)
				defer stopSignals()

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				opts := app.RunOptions{RetryFailed: retryFailed, PauseAfter: pauseAfter}
				opts.Progress = func(ev queue.Event, snap queue.Snapshot) {
					if !quiet {
						if line := progressLine(ev, snap, colorize); line != "" {
							fmt.Fprintln(out, line)
						}
					}
					if pauseAfter > 0 && ev.Type == queue.EventProgress && ev.Done == pauseAfter && ev.Done < ev.Total {
						fmt.Fprintf(out, "Paused after %d items; send SIGUSR2 to pid %d to resume\n", pauseAfter, os.Getpid())
					}
				}

				report, err := a.Run(runCtx, refs, opts)
				if err != nil {
					return err
				}

				fmt.Fprintln(out, renderItems(report.Snapshot))
				summary := fmt.Sprintf("%d succeeded, %d failed", report.Tally.Success, report.Tally.Failure)
				if report.Retried > 0 {
					summary += fmt.Sprintf(", %d retried", report.Retried)
				}
				if report.Tally.Cancelled {
					summary += " (cancelled)"
				}
				fmt.Fprintf(out, "Batch %s: %s\n", report.Snapshot.BatchID, summary)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&pauseAfter, "pause-after", 0, "Pause once this many items have finished")
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "Retry every failed item once after the first pass")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the final table")
	return cmd
}

// handleSignals maps process signals onto batch controls. The returned func
// stops listening.
func handleSignals(ctx context.Context, a batchApp, abort context.CancelFunc) func() {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	done := make(chan struct{})

	go func() {
		cancelled := false
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case sig := <-sigs:
				switch sig {
				case syscall.SIGUSR1:
					a.Pause()
				case syscall.SIGUSR2:
					a.Resume()
				default:
					if cancelled {
						abort()
						return
					}
					cancelled = true
					a.Cancel()
				}
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// collectSources expands directories into the image files they contain and
// keeps explicit file arguments as given.
func collectSources(args []string) ([]string, error) {
	var refs []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", arg, err)
		}
		if !info.IsDir() {
			refs = append(refs, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", arg, err)
		}
		var found []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if _, ok := imageExtensions[strings.ToLower(filepath.Ext(e.Name()))]; ok {
				found = append(found, filepath.Join(arg, e.Name()))
			}
		}
		sort.Strings(found)
		refs = append(refs, found...)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("no images found in %s", strings.Join(args, ", "))
	}
	return refs, nil
}
