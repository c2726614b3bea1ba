// Package notify fans submission outcomes out to operator channels
// (Telegram, Discord and signed webhooks), filtered by event name.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// Event names accepted by the filter.
const (
	EventSubmissionMined    = "submission_mined"
	EventSubmissionReverted = "submission_reverted"
	EventSubmissionTimedOut = "submission_timed_out"
	EventArchive            = "archive"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier delivers to every sender. With a non-empty event list only those
// events are forwarded.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify forwards the message if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifySubmission reports the final state of a submission.
func (n *Notifier) NotifySubmission(ctx context.Context, sub domain.Submission) error {
	event, title := submissionHeadline(sub)
	if event == "" {
		return nil
	}
	return n.Notify(ctx, event, title, FormatSubmission(sub))
}

func submissionHeadline(sub domain.Submission) (event, title string) {
	switch sub.Status {
	case domain.SubmissionMined:
		return EventSubmissionMined, fmt.Sprintf("%s mined", sub.Action)
	case domain.SubmissionReverted:
		return EventSubmissionReverted, fmt.Sprintf("%s reverted", sub.Action)
	case domain.SubmissionTimedOut:
		return EventSubmissionTimedOut, fmt.Sprintf("%s not mined in time", sub.Action)
	}
	return "", ""
}

// FormatSubmission renders a submission as a short plain-text message.
func FormatSubmission(sub domain.Submission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "target: %s\n", sub.Target.Hex())
	fmt.Fprintf(&b, "tx: %s\n", sub.TxHash.Hex())
	if sub.BlockNumber > 0 {
		fmt.Fprintf(&b, "block: %d\n", sub.BlockNumber)
	}
	if sub.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", sub.Error)
	}
	fmt.Fprintf(&b, "id: %s", sub.ID)
	return b.String()
}

// dispatch keeps going after a sender fails and joins the errors.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
