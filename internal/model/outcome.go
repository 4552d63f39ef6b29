package model

import (
	"context"
	"time"
)

// PostRequest is a single post action.
type PostRequest struct {
	Text      string
	MaxLength int
}

type Status int

const (
	StatusUnknownService Status = iota + 1
	StatusDispatchFailed
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUnknownService:
		return "unknown service"
	case StatusDispatchFailed:
		return "dispatch failed"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Outcome is the resolved state of a post to one service.
type Outcome struct {
	Service  string
	Status   Status
	Err      error
	ExitCode int // -1 when no process ran or it was signaled
	Started  time.Time
	Stopped  time.Time
}

// Notifier displays a message to the user. Notify must not block on
// delivery.
type Notifier interface {
	Notify(ctx context.Context, msg string)
}
