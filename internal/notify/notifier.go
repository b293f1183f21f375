package notify

import (
	"context"
	"encoding/json"

	"github.com/merchantops/reconcile/pkg/log"
)

// Event identifies a pipeline occurrence worth broadcasting.
type Event string

const (
	EventFileDownloaded    Event = "file_downloaded"
	EventFileProcessed     Event = "file_processed"
	EventFileFailed        Event = "file_failed"
	EventMatchingCompleted Event = "matching_completed"
	EventRecoveryAction    Event = "recovery_action"
)

// Notifier is the outbound notification collaborator. Implementations must
// never fail the pipeline: delivery problems are their own concern.
type Notifier interface {
	Notify(ctx context.Context, event Event, payload map[string]any)
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	log log.LoggerService
}

func NewLogNotifier(logger log.LoggerService) *LogNotifier {
	return &LogNotifier{
		log: logger.Named("notify"),
	}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		n.log.Warn("Dropping unserializable payload for event %s: %v", event, err)
		return
	}
	n.log.Info("Event %s: %s", event, data)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, event Event, payload map[string]any) {}
