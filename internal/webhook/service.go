// Package webhook verifies and classifies inbound repository events and
// hands sync-triggering ones to the synchronization engine.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/metorial/scriptforge/internal/models"
)

const DefaultTolerance = 300 * time.Second

// Dispatcher is the synchronization entry point the service hands
// verified events to.
type Dispatcher interface {
	HandleWebhookEvent(ctx context.Context, ev *Event) (*models.SyncRun, error)
}

// ErrRepoNotManaged signals that the event targets a repository the
// catalog does not track. The service reports this as a skip, not a
// failure.
var ErrRepoNotManaged = errors.New("repository not managed")

type Result struct {
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	SyncRun    *models.SyncRun `json:"sync_run,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

const (
	StatusSynced    = "synced"
	StatusIgnored   = "ignored"
	StatusUnmanaged = "unmanaged"
	StatusRejected  = "rejected"
	StatusError     = "error"
)

type Service struct {
	secret     string
	dispatcher Dispatcher
	tolerance  time.Duration

	now func() time.Time
}

// NewService requires a shared secret: running without one would accept
// any payload, so its absence is a configuration failure.
func NewService(secret string, dispatcher Dispatcher) (*Service, error) {
	if secret == "" {
		return nil, errors.New("webhook secret is not configured")
	}
	return &Service{
		secret:     secret,
		dispatcher: dispatcher,
		tolerance:  DefaultTolerance,
		now:        time.Now,
	}, nil
}

// ProcessEvent classifies a verified payload and triggers a targeted sync
// for event types in the trigger set. Callers verify signature and
// timestamp before invoking this.
func (s *Service) ProcessEvent(ctx context.Context, eventType string, payload []byte) Result {
	start := s.now()

	ev, err := ParseEvent(eventType, payload)
	if err != nil {
		return Result{
			Status:     StatusRejected,
			Message:    err.Error(),
			DurationMS: s.now().Sub(start).Milliseconds(),
		}
	}

	if !ev.SyncTrigger() {
		return Result{
			Status:     StatusIgnored,
			Message:    fmt.Sprintf("event type %q received but not synchronized", eventType),
			DurationMS: s.now().Sub(start).Milliseconds(),
		}
	}

	run, err := s.dispatcher.HandleWebhookEvent(ctx, ev)
	if errors.Is(err, ErrRepoNotManaged) {
		return Result{
			Status:     StatusUnmanaged,
			Message:    fmt.Sprintf("repository %s is not managed, skipped", ev.RepoFullName),
			DurationMS: s.now().Sub(start).Milliseconds(),
		}
	}
	if err != nil {
		log.Printf("Webhook sync for %s failed: %v", ev.RepoFullName, err)
		return Result{
			Status:     StatusError,
			Message:    "synchronization failed",
			DurationMS: s.now().Sub(start).Milliseconds(),
		}
	}

	return Result{
		Status:     StatusSynced,
		Message:    fmt.Sprintf("synchronized %s", ev.RepoFullName),
		SyncRun:    run,
		DurationMS: s.now().Sub(start).Milliseconds(),
	}
}
