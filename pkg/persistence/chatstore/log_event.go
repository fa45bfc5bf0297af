package chatstore

import "context"

// LogEventType names a change to a conversation log.
type LogEventType string

const (
	LogEventAppended LogEventType = "appended"
	LogEventTrimmed  LogEventType = "trimmed"
	LogEventCleared  LogEventType = "cleared"
)

// LogEvent describes a change to a conversation log. It never carries message
// content: Count is the number of messages appended or dropped, Length the
// list length observed after the change.
type LogEvent struct {
	Type      LogEventType `json:"type"`
	Key       string       `json:"key"`
	ThreadID  string       `json:"thread_id"`
	KeyPrefix string       `json:"key_prefix"`
	Count     int          `json:"count,omitempty"`
	Length    int64        `json:"length,omitempty"`
	AtMs      int64        `json:"at_ms"`
}

// LogEventSink receives log events. Publishing errors are logged by the store
// and never fail the operation that produced the event.
type LogEventSink interface {
	PublishLogEvent(ctx context.Context, ev LogEvent) error
}
