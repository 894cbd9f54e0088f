package sim

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/spetersoncode/runchat"
)

// Step is one phase of a simulated run.
type Step struct {
	// Say reveals a new assistant message a few characters per poll.
	Say string
	// SayFunc computes the message from the tool calls executed so far.
	// It takes precedence over Say.
	SayFunc func(executed []runchat.ToolCall) string
	// Citations are attached to the message once it is fully revealed.
	Citations []runchat.Citation
	// Ask pauses the run until decisions arrive for every call.
	Ask []runchat.ToolCall
	// Fail ends the run with this error.
	Fail *runchat.RunError
}

// Plan is the script a run follows.
type Plan struct {
	Steps []Step
	// FinalText overrides the completion text. Empty means the concatenated
	// message texts.
	FinalText string
}

// Responder turns a user prompt into a plan.
type Responder func(prompt string) Plan

var numberPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)

// DefaultResponder recognises a few prompt shapes so the demo can exercise
// tools, citations and failures:
//
//   - prompts mentioning "time" call current_time
//   - prompts with "add" or "sum" and two numbers call add
//   - prompts mentioning "source" cite a URL
//   - prompts containing "crash" end in a failed run
//
// Anything else is echoed back.
func DefaultResponder(prompt string) Plan {
	lower := strings.ToLower(prompt)

	switch {
	case strings.Contains(lower, "crash"):
		return Plan{Steps: []Step{
			{Say: "Let me try that. "},
			{Fail: &runchat.RunError{Code: "server_error", Message: "the agent encountered an internal error"}},
		}}

	case strings.Contains(lower, "time"):
		zone := "UTC"
		if i := strings.Index(prompt, " in "); i >= 0 {
			zone = strings.TrimSpace(strings.TrimRight(prompt[i+4:], "?.!"))
		}
		return Plan{Steps: []Step{
			{Say: "I will use the current_time tool to look up the time. "},
			{Ask: []runchat.ToolCall{{Name: "current_time", Arguments: fmt.Sprintf(`{"timezone":%q}`, zone)}}},
			{SayFunc: func(executed []runchat.ToolCall) string {
				return summarize(executed, "The current time is %s.")
			}},
		}}

	case strings.Contains(lower, "add") || strings.Contains(lower, "sum"):
		nums := numberPattern.FindAllString(prompt, 2)
		if len(nums) == 2 {
			a, _ := strconv.ParseFloat(nums[0], 64)
			b, _ := strconv.ParseFloat(nums[1], 64)
			return Plan{Steps: []Step{
				{Say: "I will add the two numbers with the add tool. "},
				{Ask: []runchat.ToolCall{{Name: "add", Arguments: fmt.Sprintf(`{"a":%g,"b":%g}`, a, b)}}},
				{SayFunc: func(executed []runchat.ToolCall) string {
					return summarize(executed, "The sum is %s.")
				}},
			}}
		}

	case strings.Contains(lower, "source"):
		text := "Go is an open source programming language.【1:0†source】"
		return Plan{Steps: []Step{{
			Say: text,
			Citations: []runchat.Citation{{
				Kind:   runchat.CitationURL,
				Source: "https://go.dev",
				Title:  "The Go Programming Language",
				Quote:  "【1:0†source】",
				Offset: len([]rune("Go is an open source programming language.")),
				End:    len([]rune(text)),
			}},
		}}}
	}

	return Plan{Steps: []Step{{Say: "You said: " + prompt}}}
}

func summarize(executed []runchat.ToolCall, format string) string {
	if len(executed) == 0 {
		return "I could not run the tool."
	}
	last := executed[len(executed)-1]
	if last.Output == DeniedOutput || strings.HasPrefix(last.Output, DeniedOutput) {
		return "Understood, I did not run the tool."
	}
	return fmt.Sprintf(format, last.Output)
}
