package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/CZERTAINLY/herald/internal/model"
)

// WriteNotifier prints every message on its own line.
type WriteNotifier struct {
	mx sync.Mutex
	w  io.Writer
}

func NewWriteNotifier(w io.Writer) *WriteNotifier {
	if w == nil {
		w = os.Stdout
	}
	return &WriteNotifier{w: w}
}

func (n *WriteNotifier) Notify(ctx context.Context, msg string) {
	n.mx.Lock()
	defer n.mx.Unlock()
	if _, err := fmt.Fprintln(n.w, msg); err != nil {
		slog.DebugContext(ctx, "notification not written", "error", err)
	}
}

// LogNotifier records notifications in the log.
type LogNotifier struct {
	level slog.Level
}

func NewLogNotifier(level slog.Level) LogNotifier {
	return LogNotifier{level: level}
}

func (n LogNotifier) Notify(ctx context.Context, msg string) {
	slog.Log(ctx, n.level, "notification", "message", msg)
}

// Notifiers sends each message to all of its members.
type Notifiers []model.Notifier

func (ns Notifiers) Notify(ctx context.Context, msg string) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, msg)
		}
	}
}
