package agent

import (
	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/event"
)

// Resolution outcomes reported to Observer.Resolved.
const (
	ResolutionSucceeded = "succeeded"
	ResolutionFailed    = "failed"
)

// Observer receives driver activity for metrics.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	// Polled is called after every successful status fetch.
	Polled(status runchat.RunStatus)
	// Delivered is called for every event handed to the sink.
	Delivered(t event.Type)
	// Retried is called before a remote call is retried.
	Retried(op string)
	// Resolved is called after an approval batch submission attempt ends.
	Resolved(outcome string, calls int)
}

type nopObserver struct{}

func (nopObserver) Polled(runchat.RunStatus) {}
func (nopObserver) Delivered(event.Type)     {}
func (nopObserver) Retried(string)           {}
func (nopObserver) Resolved(string, int)     {}
