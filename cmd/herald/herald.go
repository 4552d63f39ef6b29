package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/CZERTAINLY/herald/internal/log"
	"github.com/CZERTAINLY/herald/internal/model"
	"github.com/CZERTAINLY/herald/internal/service"
	"github.com/CZERTAINLY/herald/internal/settings"
	"github.com/CZERTAINLY/herald/internal/source"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	flagFile     string
	flagStart    int
	flagEnd      int
	flagEditor   bool
	flagServices string
)

var postCmd = &cobra.Command{
	Use:   "post [text...]",
	Short: "post command sends the text to the active services and waits for them",
	RunE:  doPost,
}

var servicesCmd = &cobra.Command{
	Use:   "services [service,...]",
	Short: "services command lists the services or selects the active ones",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doServices,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "listen command posts every line read from standard input",
	Args:  cobra.NoArgs,
	RunE:  doListen,
}

func doPost(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("herald",
		slog.String("cmd", "post"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	text, err := readText(ctx, cmd, args)
	if err != nil {
		return err
	}

	snap := store.Snapshot()
	if flagServices != "" {
		snap.Services = model.ParseServices(flagServices)
	}

	d, err := broadcast(ctx, snap, text)
	if err != nil {
		return err
	}
	outcomes, err := d.Wait(ctx)
	if err != nil {
		return err
	}

	if failed, total := countFailed(outcomes); failed > 0 {
		return fmt.Errorf("%d of %d posts failed", failed, total)
	}
	return nil
}

// countFailed counts the posts which were attempted and did not complete.
// Unknown services were already reported and are not part of the total.
func countFailed(outcomes []model.Outcome) (failed, total int) {
	for _, o := range outcomes {
		switch o.Status {
		case model.StatusUnknownService:
			continue
		case model.StatusCompleted:
		default:
			failed++
		}
		total++
	}
	return failed, total
}

// readText picks the text source from the command line: arguments, a
// file region, an editor or a single line of standard input.
func readText(ctx context.Context, cmd *cobra.Command, args []string) (string, error) {
	switch {
	case len(args) > 0:
		return strings.Join(args, " "), nil
	case flagFile != "":
		b, err := os.ReadFile(flagFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", flagFile, err)
		}
		if !cmd.Flags().Changed("start") && !cmd.Flags().Changed("end") {
			return string(b), nil
		}
		end := flagEnd
		if end < 0 {
			end = len([]rune(string(b)))
		}
		return source.Region(string(b), flagStart, end)
	case flagEditor:
		text, err := source.NewEditor().Compose(ctx, "")
		if err == nil && text == "" {
			// the editor was left empty on purpose
			return "", fmt.Errorf("aborting post: %w", model.ErrEmptyInput)
		}
		return text, err
	default:
		return source.Prompt(cmd.InOrStdin(), cmd.ErrOrStderr(), "Post: ")
	}
}

func broadcast(ctx context.Context, snap settings.Snapshot, text string) (*service.Dispatch, error) {
	b := service.NewBroadcaster(store.Notifier()).WithTimeout(snap.Timeout)
	req := model.PostRequest{Text: text, MaxLength: snap.MaxLength}
	return b.Broadcast(ctx, req, snap.Services, snap.Registry)
}

func doServices(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if len(args) == 0 {
		return listServices(cmd.OutOrStdout(), store.Snapshot())
	}

	if _, err := store.Configure(ctx, args[0]); err != nil {
		return err
	}
	return store.Save()
}

func listServices(w io.Writer, snap settings.Snapshot) error {
	active := make(map[string]struct{}, len(snap.Services))
	for _, s := range snap.Services {
		active[s] = struct{}{}
	}
	for _, id := range snap.Registry.IDs() {
		mark := " "
		if _, ok := active[id]; ok {
			mark = "*"
		}
		if _, err := fmt.Fprintf(w, "%s %-12s %s\n", mark, id, strings.Join(snap.Registry[id], " ")); err != nil {
			return err
		}
	}
	return nil
}

func doListen(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("herald",
		slog.String("cmd", "listen"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gctx)
	g.Go(func() error {
		return store.Watch(watchCtx)
	})
	g.Go(func() error {
		defer stopWatch()
		return listen(gctx, cmd.InOrStdin(), cmd.ErrOrStderr())
	})
	return g.Wait()
}

// listen broadcasts every line of r with the configuration active at the
// time the line was read. It waits for pending dispatches once r ends.
func listen(ctx context.Context, r io.Reader, errw io.Writer) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	var limiter *rate.Limiter
	for line, err := range source.Lines(r) {
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		snap := store.Snapshot()
		limiter = throttle(limiter, snap.Rate)
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		d, err := broadcast(ctx, snap, line)
		if err != nil {
			// a rejected line does not stop the others
			_, _ = fmt.Fprintf(errw, "Error: %v\n", err)
			slog.WarnContext(ctx, "post rejected", "error", err)
			continue
		}
		wg.Go(func() {
			_, _ = d.Wait(ctx)
		})
	}
	return nil
}

// throttle follows the configured rate, which may change on reload.
func throttle(limiter *rate.Limiter, perSec int) *rate.Limiter {
	switch {
	case perSec <= 0:
		return nil
	case limiter == nil:
		return rate.NewLimiter(rate.Limit(perSec), perSec)
	case limiter.Limit() != rate.Limit(perSec):
		limiter.SetLimit(rate.Limit(perSec))
		limiter.SetBurst(perSec)
	}
	return limiter
}
