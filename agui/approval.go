package agui

import (
	"encoding/json"
	"errors"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/agent"
)

// ErrMissingToolCallID is returned for an approval without a call id.
var ErrMissingToolCallID = errors.New("toolCallId is required")

// ApprovalInput represents an approval decision from the AG-UI frontend.
type ApprovalInput struct {
	ToolCallID string `json:"toolCallId"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
}

// ParseApprovalInput parses an approval decision from JSON.
func ParseApprovalInput(data []byte) (*ApprovalInput, error) {
	var input ApprovalInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	if input.ToolCallID == "" {
		return nil, ErrMissingToolCallID
	}
	return &input, nil
}

// ToDecision converts an ApprovalInput to a runchat.ToolDecision.
func (a *ApprovalInput) ToDecision() runchat.ToolDecision {
	return runchat.ToolDecision{
		CallID:   a.ToolCallID,
		Approved: a.Approved,
		Reason:   a.Reason,
	}
}

// HandleApproval applies an approval input to the gate.
func HandleApproval(gate *agent.Gate, input *ApprovalInput) error {
	return gate.Decide(input.ToolCallID, input.Approved, input.Reason)
}

// HandleApprovalJSON processes a JSON-encoded approval input.
func HandleApprovalJSON(gate *agent.Gate, data []byte) error {
	input, err := ParseApprovalInput(data)
	if err != nil {
		return err
	}
	return HandleApproval(gate, input)
}
