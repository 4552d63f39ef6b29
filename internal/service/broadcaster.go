package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/herald/internal/log"
	"github.com/CZERTAINLY/herald/internal/model"
	"github.com/CZERTAINLY/herald/internal/parallel"
)

// Broadcaster posts a text to several services, each one backed by an
// external command reading the text on its standard input.
type Broadcaster struct {
	notifier model.Notifier
	timeout  time.Duration
	env      []string
}

func NewBroadcaster(notifier model.Notifier) *Broadcaster {
	if notifier == nil {
		notifier = NewLogNotifier(slog.LevelInfo)
	}
	return &Broadcaster{notifier: notifier}
}

// WithTimeout limits the run time of every spawned command. Zero, the
// default, means no limit.
func (b *Broadcaster) WithTimeout(d time.Duration) *Broadcaster {
	b.timeout = d
	return b
}

// WithEnv sets the environment of spawned commands, nil inherits the
// environment of the current process.
func (b *Broadcaster) WithEnv(env []string) *Broadcaster {
	b.env = env
	return b
}

// Dispatch tracks a single Broadcast call.
type Dispatch struct {
	ID       uuid.UUID
	done     chan struct{}
	mx       sync.Mutex
	outcomes []model.Outcome
}

func newDispatch() *Dispatch {
	return &Dispatch{
		ID:   uuid.New(),
		done: make(chan struct{}),
	}
}

// Done is closed once every outcome of the dispatch is resolved.
func (d *Dispatch) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the dispatch is done or ctx ends.
func (d *Dispatch) Wait(ctx context.Context) ([]model.Outcome, error) {
	select {
	case <-d.done:
		return d.Outcomes(), nil
	case <-ctx.Done():
		return d.Outcomes(), ctx.Err()
	}
}

// Outcomes returns the outcomes resolved so far, in resolution order.
func (d *Dispatch) Outcomes() []model.Outcome {
	d.mx.Lock()
	defer d.mx.Unlock()
	return slices.Clone(d.outcomes)
}

func (d *Dispatch) record(out model.Outcome) {
	d.mx.Lock()
	d.outcomes = append(d.outcomes, out)
	d.mx.Unlock()
}

func (d *Dispatch) finish() {
	close(d.done)
}

type job struct {
	service string
	cmd     Command
}

// Broadcast validates req and starts one command per known service in
// services. It returns as soon as the commands are started, the progress
// is reported through the notifier and the returned Dispatch.
//
// Blank text is not an error, it is reported as "Nothing to post" and
// nothing is started. A text longer than req.MaxLength returns
// *model.TooLongError and nothing is started.
//
// services and reg are copied, so a later reconfiguration does not
// change a running dispatch. Canceling ctx kills the started commands,
// which resolve as failed.
func (b *Broadcaster) Broadcast(ctx context.Context, req model.PostRequest, services model.Services, reg model.Registry) (*Dispatch, error) {
	d := newDispatch()
	ctx = log.ContextAttrs(ctx, slog.String("broadcast", d.ID.String()))

	if IsBlank(req.Text) {
		b.notifier.Notify(ctx, "Nothing to post")
		d.finish()
		return d, nil
	}
	if err := Validate(req.Text, req.MaxLength); err != nil {
		return nil, err
	}

	services = slices.Clone(services)
	reg = reg.Clone()

	b.notifier.Notify(ctx, sendingMessage(services))

	jobs := make([]job, 0, len(services))
	for _, id := range services {
		tokens, ok := reg.Lookup(id)
		if !ok {
			slog.WarnContext(ctx, "skipping unknown service", "service", id)
			b.notifier.Notify(ctx, "Unknown service: "+id)
			d.record(model.Outcome{
				Service:  id,
				Status:   model.StatusUnknownService,
				Err:      &model.UnknownServiceError{Service: id, Known: reg.IDs()},
				ExitCode: -1,
			})
			continue
		}
		cmd := CommandFromTokens(tokens)
		cmd.Stdin = []byte(req.Text)
		cmd.Timeout = b.timeout
		cmd.Env = b.env
		jobs = append(jobs, job{service: id, cmd: cmd})
	}

	if len(jobs) == 0 {
		d.finish()
		return d, nil
	}

	slog.DebugContext(ctx, "dispatching", "services", len(jobs), "length", len(req.Text))
	m := parallel.NewMap(ctx, len(jobs), b.post)
	go b.aggregate(ctx, d, len(jobs), m.Iter(slices.Values(jobs)))
	return d, nil
}

// post runs the command of one service and waits for it.
func (b *Broadcaster) post(ctx context.Context, j job) (model.Outcome, error) {
	ctx = log.ContextAttrs(ctx, slog.String("service", j.service))
	out := model.Outcome{Service: j.service, ExitCode: -1}

	runner := NewRunner()
	stderr := func(ctx context.Context, line string) {
		slog.DebugContext(ctx, "stderr", "line", line)
	}
	if err := runner.Start(ctx, j.cmd, stderr); err != nil {
		res := runner.LastResult()
		out.Status = model.StatusDispatchFailed
		out.Err = fmt.Errorf("starting %s: %w", j.cmd.Path, err)
		out.Started, out.Stopped = res.Started, res.Stopped
		slog.ErrorContext(ctx, "command can't be started", "path", j.cmd.Path, "error", err)
		return out, nil
	}

	res := <-runner.WaitChan()
	out.Started, out.Stopped = res.Started, res.Stopped
	out.ExitCode = res.ExitCode()
	if res.Success() {
		out.Status = model.StatusCompleted
		slog.DebugContext(ctx, "command succeeded", "took", res.Stopped.Sub(res.Started))
		return out, nil
	}

	out.Status = model.StatusFailed
	out.Err = failure(res)
	slog.ErrorContext(ctx, "command failed", "path", res.Path, "error", out.Err, "stdout", res.Stdout.String())
	return out, nil
}

// aggregate owns the counters of a single dispatch. It drains outcomes
// until every job is resolved, canceled ones included.
func (b *Broadcaster) aggregate(ctx context.Context, d *Dispatch, total int, outcomes iter.Seq2[model.Outcome, error]) {
	defer d.finish()

	var resolved, succeeded int
	for out, err := range outcomes {
		if err != nil {
			slog.ErrorContext(ctx, "post failed", "error", err)
			continue
		}
		resolved++
		d.record(out)

		if out.Status != model.StatusCompleted {
			b.notifier.Notify(ctx, fmt.Sprintf("Failed to post to %s: %v", out.Service, out.Err))
			continue
		}
		succeeded++
		b.notifier.Notify(ctx, fmt.Sprintf("Posted to %s (%d/%d)", out.Service, succeeded, total))
		if succeeded == total {
			slog.InfoContext(ctx, "broadcast finished", "total", total)
			b.notifier.Notify(ctx, fmt.Sprintf("Successfully posted to all %d services", total))
		}
	}

	if ctx.Err() != nil {
		slog.WarnContext(ctx, "broadcast canceled", "resolved", resolved, "total", total, "error", context.Cause(ctx))
	}
	if succeeded < total {
		slog.WarnContext(ctx, "broadcast finished with failures", "succeeded", succeeded, "total", total)
		b.notifier.Notify(ctx, fmt.Sprintf("Posted to %d of %d services", succeeded, total))
	}
}

func sendingMessage(services model.Services) string {
	if len(services) == 0 {
		return "Sending... no services configured"
	}
	return fmt.Sprintf("Sending to %s...", services)
}

func failure(res Result) error {
	var exitErr *exec.ExitError
	switch {
	case res.Err != nil && errors.As(res.Err, &exitErr) && exitErr.ExitCode() > 0:
		return fmt.Errorf("exit code %d", exitErr.ExitCode())
	case res.Err != nil:
		return res.Err
	case res.State == nil:
		return errors.New("process state is nil")
	default:
		return fmt.Errorf("exit code %d", res.State.ExitCode())
	}
}
