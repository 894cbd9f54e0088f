package agent

import (
	"log/slog"
	"sync"

	"github.com/spetersoncode/runchat/event"
)

type chunkState int

const (
	chunkOpen chunkState = iota
	chunkPaused
	chunkClosed
)

// ChunkAdapter feeds text deltas to a plain chunk callback, the shape a
// streaming text widget expects, while still passing every event downstream.
//
// Chunks flow while a run streams text. Once the run asks for approval the
// adapter stops emitting chunks for that run, and after the run ends it emits
// none at all. The first event of a new run reopens it. Withheld chunks are
// logged as discarded.
type ChunkAdapter struct {
	mu      sync.Mutex
	onChunk func(string)
	next    event.Sink
	logger  *slog.Logger
	runID   string
	state   chunkState
}

// NewChunkAdapter creates an adapter calling onChunk for streamed text and
// forwarding every event to next (which may be nil).
func NewChunkAdapter(onChunk func(string), next event.Sink, logger *slog.Logger) *ChunkAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkAdapter{onChunk: onChunk, next: next, logger: logger}
}

// Accept implements event.Sink.
func (a *ChunkAdapter) Accept(ev event.Event) {
	a.mu.Lock()
	if ev.RunID != a.runID {
		a.runID = ev.RunID
		a.state = chunkOpen
	}

	var chunk string
	emit := false
	switch ev.Type {
	case event.TextDelta:
		if a.state == chunkOpen {
			chunk, emit = ev.Delta, true
		} else {
			a.logger.Debug("chunk discarded", "run_id", ev.RunID, "bytes", len(ev.Delta), "cause", a.state.cause())
		}
	case event.ApprovalRequested:
		if a.state == chunkOpen {
			a.state = chunkPaused
		}
	case event.RunCompleted, event.RunFailed:
		a.state = chunkClosed
	}
	a.mu.Unlock()

	if emit && a.onChunk != nil {
		a.onChunk(chunk)
	}
	if a.next != nil {
		a.next.Accept(ev)
	}
}

func (s chunkState) cause() string {
	switch s {
	case chunkPaused:
		return "awaiting approval"
	case chunkClosed:
		return "run ended"
	}
	return ""
}
