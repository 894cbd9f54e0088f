package agent

import (
	"context"
	"sync"
	"time"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/internal/retry"
)

// scriptedClient replays a fixed sequence of snapshots. Each GetRun returns
// the next snapshot; the last one repeats.
type scriptedClient struct {
	mu         sync.Mutex
	snaps      []runchat.Snapshot
	next       int
	getErrs    []error
	submitErrs []error
	calls      []string
	submitted  [][]runchat.ToolDecision
	prompts    []string
	tools      []runchat.ToolConfig
	threads    int
	runs       int
}

func newScripted(snaps ...runchat.Snapshot) *scriptedClient {
	return &scriptedClient{snaps: snaps}
}

func (c *scriptedClient) record(call string) {
	c.calls = append(c.calls, call)
}

func (c *scriptedClient) CreateThread(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("create_thread")
	c.threads++
	return "thread_1", nil
}

func (c *scriptedClient) PostUserMessage(_ context.Context, _ string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("post_message")
	c.prompts = append(c.prompts, text)
	return nil
}

func (c *scriptedClient) StartRun(_ context.Context, _ string, cfg runchat.ToolConfig) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("start_run")
	c.runs++
	c.tools = append(c.tools, cfg)
	return "run_1", nil
}

func (c *scriptedClient) GetRun(_ context.Context, threadID, runID string) (*runchat.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("get_run")
	if len(c.getErrs) > 0 {
		err := c.getErrs[0]
		c.getErrs = c.getErrs[1:]
		return nil, err
	}
	i := c.next
	if i >= len(c.snaps) {
		i = len(c.snaps) - 1
	} else {
		c.next++
	}
	snap := c.snaps[i]
	snap.ThreadID, snap.RunID = threadID, runID
	return &snap, nil
}

func (c *scriptedClient) SubmitToolDecisions(_ context.Context, _, _ string, decisions []runchat.ToolDecision) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("submit")
	if len(c.submitErrs) > 0 {
		err := c.submitErrs[0]
		c.submitErrs = c.submitErrs[1:]
		return err
	}
	c.submitted = append(c.submitted, decisions)
	return nil
}

func (c *scriptedClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *scriptedClient) Submitted() [][]runchat.ToolDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]runchat.ToolDecision(nil), c.submitted...)
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func testDriver(client runchat.RunClient, opts ...Option) *Driver {
	base := []Option{
		WithPollInterval(time.Millisecond),
		WithFetchRetry(fastRetry()),
		WithResolveRetry(fastRetry()),
	}
	return New(client, append(base, opts...)...)
}

func inProgress(id, text string) runchat.Snapshot {
	return runchat.Snapshot{
		Status:   runchat.RunInProgress,
		Messages: []runchat.MessageSnapshot{{ID: id, Text: text}},
	}
}

func needsApproval(calls ...runchat.ToolCall) runchat.Snapshot {
	return runchat.Snapshot{
		Status:         runchat.RunRequiresAction,
		RequiredAction: &runchat.RequiredAction{ToolCalls: calls},
	}
}

func completed(text string) runchat.Snapshot {
	return runchat.Snapshot{Status: runchat.RunCompleted, FinalText: text}
}
