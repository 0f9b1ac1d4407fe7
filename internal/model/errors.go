package model

import (
	"errors"
	"fmt"
)

// Pipeline error kinds form a closed set. Validation error codes live on
// ValidationError records; the kinds below are the terminal failures a
// request can surface.
const (
	KindLLMOutputNotJSON       = "llm_output_not_json"
	KindLLMOutputUnsafe        = "llm_output_unsafe"
	KindLLMRepairOutputNotJSON = "llm_repair_output_not_json"
	KindNoLLMInfeasible        = "no_llm_infeasible"
	KindPlanValidationFailed   = "plan_validation_failed"

	KindCompileUnauthorizedField = "compile_unauthorized_field"
	KindCompileUnsupportedOp     = "compile_unsupported_op"
	KindCompileUnsupportedGrain  = "compile_unsupported_grain"
	KindCompileMissingMetric     = "compile_missing_metric"
	KindCompileMissingTimeField  = "compile_missing_time_field"
)

// PipelineError 带稳定错误码的请求级失败
type PipelineError struct {
	Kind    string
	Message string
}

func (e *PipelineError) Error() string {
	return e.Message
}

// E builds a PipelineError with a formatted message.
func E(kind, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the stable error kind, or "" for untyped errors.
func KindOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
