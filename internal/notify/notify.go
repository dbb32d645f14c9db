// Package notify carries human-facing outcome messages (the "toasts" of the
// front end) out of the services. Delivery is fire-and-forget.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Severity classifies how a notification should be surfaced.
type Severity string

const (
	SeverityInfo        Severity = "info"
	SeverityDestructive Severity = "destructive"
)

// Notification is a single message for the person driving the session.
type Notification struct {
	SessionID   string   `json:"session_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// Notifier accepts notifications. Implementations must not block the caller
// on slow delivery and never report failures back.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo
	if n.Severity == SeverityDestructive {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "notification",
		"session_id", n.SessionID,
		"title", n.Title,
		"description", n.Description,
		"severity", string(n.Severity),
	)
}

// Recorder keeps the most recent notifications per session in memory so the
// HTTP layer can hand them back to the front end.
type Recorder struct {
	mu    sync.Mutex
	limit int
	items map[string][]Notification
}

// NewRecorder keeps up to limit notifications per session.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 20
	}
	return &Recorder{limit: limit, items: make(map[string][]Notification)}
}

func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append(r.items[n.SessionID], n)
	if len(list) > r.limit {
		list = list[len(list)-r.limit:]
	}
	r.items[n.SessionID] = list
}

// Drain returns and clears the pending notifications for a session.
func (r *Recorder) Drain(sessionID string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.items[sessionID]
	delete(r.items, sessionID)
	return list
}

// Fanout delivers each notification to every wrapped notifier.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n Notification) {
	for _, target := range f {
		if target != nil {
			target.Notify(ctx, n)
		}
	}
}

// Discard drops everything.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) {}
