package agui

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"github.com/spetersoncode/runchat/event"
)

// ErrStreamingUnsupported is returned when the response cannot be flushed.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Writer writes server-sent events.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	flush func()
}

// NewWriter prepares w for an SSE stream and sets the response headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &Writer{w: w, flush: flusher.Flush}, nil
}

// NewStreamWriter writes SSE frames to any writer, without flushing.
func NewStreamWriter(w io.Writer) *Writer {
	return &Writer{w: w, flush: func() {}}
}

// WriteEvent writes an AG-UI event in SSE format.
func (w *Writer) WriteEvent(ev events.Event) error {
	data, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	return w.write(string(ev.Type()), data)
}

// WriteFrame writes v as JSON under the given SSE event name.
func (w *Writer) WriteFrame(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", name, err)
	}
	return w.write(name, data)
}

func (w *Writer) write(name string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	w.flush()
	return nil
}

// EventWriter delivers AG-UI events and named extension frames to a client.
// Writer implements it for SSE.
type EventWriter interface {
	WriteEvent(ev events.Event) error
	WriteFrame(name string, v any) error
}

var _ EventWriter = (*Writer)(nil)

// Extension frame names for state AG-UI has no event for.
const (
	FrameCitation         = "runchat.citation"
	FrameApprovalRequired = "runchat.approval_requested"
	FrameApprovalResolved = "runchat.approval_resolved"
)

// Sink is an event.Sink that streams a turn to an AG-UI client over any
// EventWriter.
//
// Write failures are logged and remembered; once a write fails the rest of
// the turn is dropped. The driver keeps polling so the run is still settled.
type Sink struct {
	mapper *Mapper
	out    EventWriter
	logger *slog.Logger

	mu    sync.Mutex
	err   error
	count int
}

var _ event.Sink = (*Sink)(nil)

// NewSink creates a Sink. A nil logger uses slog.Default().
func NewSink(m *Mapper, out EventWriter, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{mapper: m, out: out, logger: logger}
}

// Accept implements event.Sink.
func (s *Sink) Accept(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}

	for _, aguiEvent := range s.mapper.MapEvent(ev) {
		if err := s.out.WriteEvent(aguiEvent); err != nil {
			s.fail(err, string(aguiEvent.Type()))
			return
		}
		s.count++
		s.logger.Debug("sending event", "event_type", aguiEvent.Type(), "event_num", s.count)
	}

	var frame string
	switch ev.Type {
	case event.Citation:
		frame = FrameCitation
	case event.ApprovalRequested:
		frame = FrameApprovalRequired
	case event.ApprovalResolved:
		frame = FrameApprovalResolved
	default:
		return
	}
	if err := s.out.WriteFrame(frame, ev); err != nil {
		s.fail(err, frame)
		return
	}
	s.count++
}

func (s *Sink) fail(err error, eventType string) {
	s.err = err
	s.logger.Error("failed to write event", "error", err, "event_type", eventType)
}

// Err returns the first write error.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Count returns the number of frames written.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
