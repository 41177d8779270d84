package orchestrator

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error codes for specific failure types
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeDiscovery         = "DISCOVERY_ERROR"
	ErrCodeToolNotFound      = "TOOL_NOT_FOUND"
	ErrCodeToolExecution     = "TOOL_EXECUTION_ERROR"
	ErrCodeArgumentSynthesis = "ARGUMENT_SYNTHESIS_ERROR"
	ErrCodePlanGeneration    = "PLAN_GENERATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeLLM               = "LLM_ERROR"
	ErrCodeConfiguration     = "CONFIGURATION_ERROR"
	ErrCodeCancelled         = "EXECUTION_CANCELLED"
	ErrCodeTimeout           = "EXECUTION_TIMEOUT"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// OrchestratorError carries a machine-readable code and the pipeline stage
// where a failure happened.
type OrchestratorError struct {
	Code    string
	Message string
	Stage   string
	Cause   error
}

// Error implements the error interface.
func (e *OrchestratorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *OrchestratorError) Unwrap() error {
	return e.Cause
}

// NewError creates a new OrchestratorError.
func NewError(code, stage, message string, cause error) *OrchestratorError {
	return &OrchestratorError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// AsOrchestratorError extracts an OrchestratorError from the chain.
func AsOrchestratorError(err error) (*OrchestratorError, bool) {
	var oe *OrchestratorError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	oe, ok := AsOrchestratorError(err)
	return ok && oe.Code == code
}

// IsCancellation reports whether err stems from context cancellation or
// deadline expiry.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func NewValidationError(stage, message string, cause error) *OrchestratorError {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewDiscoveryError(serverKey string, cause error) *OrchestratorError {
	return NewError(ErrCodeDiscovery, "discovery", fmt.Sprintf("tool discovery failed for server '%s'", serverKey), cause)
}

func NewToolNotFoundError(stage, toolKey string) *OrchestratorError {
	return NewError(ErrCodeToolNotFound, stage, fmt.Sprintf("tool '%s' not found", toolKey), nil)
}

func NewToolExecutionError(stage, toolKey string, cause error) *OrchestratorError {
	return NewError(ErrCodeToolExecution, stage, fmt.Sprintf("execution failed for tool '%s'", toolKey), cause)
}

func NewArgumentSynthesisError(stepID string, cause error) *OrchestratorError {
	return NewError(ErrCodeArgumentSynthesis, "execution", fmt.Sprintf("failed to synthesize arguments for step '%s'", stepID), cause)
}

func NewPlanGenerationError(cause error) *OrchestratorError {
	return NewError(ErrCodePlanGeneration, "planning", "failed to generate execution plan", cause)
}

func NewExecutionError(message string, cause error) *OrchestratorError {
	return NewError(ErrCodeExecution, "execution", message, cause)
}

func NewLLMError(provider string, cause error) *OrchestratorError {
	return NewError(ErrCodeLLM, "llm", fmt.Sprintf("%s completion failed", provider), cause)
}

func NewConfigurationError(message string, cause error) *OrchestratorError {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *OrchestratorError {
	msg := "execution cancelled"
	if cause != nil && !errors.Is(cause, context.Canceled) {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewTimeoutError(stage string, cause error) *OrchestratorError {
	return NewError(ErrCodeTimeout, stage, "execution timed out", cause)
}

func NewInternalError(stage, message string, cause error) *OrchestratorError {
	return NewError(ErrCodeInternal, stage, message, cause)
}
