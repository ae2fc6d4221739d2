// Package audit carries security and operational events from the client to
// an external collector. The client pushes typed events into a Sink; it
// never reaches into global state to report them.
package audit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Severity ranks an event for the external collector.
type Severity string

const (
	// SeverityLow covers ordinary request failures such as plain 4xx.
	SeverityLow Severity = "low"

	// SeverityMedium covers transient upstream trouble such as 5xx and
	// exhausted retries.
	SeverityMedium Severity = "medium"

	// SeverityHigh covers auth/config failures and circuit-open events.
	SeverityHigh Severity = "high"
)

// Event is one security or operational occurrence.
type Event struct {
	Time       time.Time `json:"time"`
	RequestID  string    `json:"request_id,omitempty"`
	KeyName    string    `json:"key_name,omitempty"`
	Action     string    `json:"action"`
	Severity   Severity  `json:"severity"`
	StatusCode int       `json:"status_code,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use and
// must not block the request path.
type Sink interface {
	Record(event Event)
}

// NopSink discards all events.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(Event) {}

// ZerologSink writes events as structured log lines.
type ZerologSink struct {
	logger zerolog.Logger
}

// NewZerologSink creates a sink writing to logger.
func NewZerologSink(logger zerolog.Logger) *ZerologSink {
	return &ZerologSink{logger: logger}
}

// Record implements Sink.
func (s *ZerologSink) Record(event Event) {
	var evt *zerolog.Event
	switch event.Severity {
	case SeverityHigh:
		evt = s.logger.Error()
	case SeverityMedium:
		evt = s.logger.Warn()
	default:
		evt = s.logger.Info()
	}

	evt = evt.
		Time("event_time", event.Time).
		Str("action", event.Action).
		Str("severity", string(event.Severity))
	if event.RequestID != "" {
		evt = evt.Str("request_id", event.RequestID)
	}
	if event.KeyName != "" {
		evt = evt.Str("key_name", event.KeyName)
	}
	if event.StatusCode > 0 {
		evt = evt.Int("status_code", event.StatusCode)
	}
	evt.Msg(event.Detail)
}

// ChannelSink buffers events for an external consumer. When the buffer is
// full the oldest event is dropped so the request path never blocks.
type ChannelSink struct {
	mu      sync.Mutex
	events  chan Event
	dropped int64
}

// NewChannelSink creates a sink buffering up to size events.
func NewChannelSink(size int) *ChannelSink {
	if size <= 0 {
		size = 256
	}
	return &ChannelSink{events: make(chan Event, size)}
}

// Record implements Sink.
func (s *ChannelSink) Record(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		select {
		case s.events <- event:
			return
		default:
			select {
			case <-s.events:
				s.dropped++
			default:
			}
		}
	}
}

// Events exposes the buffered stream for the subscribing collector.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// Dropped returns how many events were discarded due to a full buffer.
func (s *ChannelSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
