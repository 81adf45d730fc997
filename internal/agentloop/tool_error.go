package agentloop

import (
	"errors"
	"strings"

	"echodesk/cli/internal/taskstate"
)

const errorPrefix = "Error: "

type ToolError struct {
	Message string `json:"error"`
	Suggest string `json:"suggest"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return "UNKNOWN_ERROR"
	}
	if e.Message == "" {
		return "UNKNOWN_ERROR"
	}
	return e.Message
}

// Output renders the error the way the model sees it.
func (e *ToolError) Output() string {
	out := errorPrefix + e.Error()
	if e != nil && e.Suggest != "" && e.Suggest != noSuggestion {
		out += " (" + e.Suggest + ")"
	}
	return out
}

const noSuggestion = "NO_SUGGESTION"

func NewToolError(message, suggest string) *ToolError {
	if suggest == "" {
		suggest = noSuggestion
	}
	return &ToolError{Message: message, Suggest: suggest}
}

// toolErrorFromErr maps service errors onto tool errors with a hint the model
// can act on.
func toolErrorFromErr(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	msg := strings.TrimSpace(err.Error())
	switch {
	case errors.Is(err, taskstate.ErrTaskNotFound):
		return NewToolError(msg, "call listTasks to look up a valid task id")
	case errors.Is(err, taskstate.ErrStepNotFound):
		return NewToolError(msg, "call getTask to look up the step ids of this task")
	case errors.Is(err, taskstate.ErrInvalidInput):
		return NewToolError(msg, "check the arguments against the tool schema")
	default:
		return NewToolError(msg, "")
	}
}

// IsErrorOutput reports whether a tool output string is an error result.
func IsErrorOutput(out string) bool {
	return strings.HasPrefix(out, errorPrefix)
}
