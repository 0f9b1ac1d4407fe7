package model

// Validation error codes. The planner keys augmentation and repair off these,
// so they are part of the wire contract, not free-form text.
const (
	CodeNotJSON               = "not_json"
	CodeSchema                = "schema"
	CodeMetricNotFound        = "metric_not_found"
	CodeDimensionFieldInvalid = "dimension_field_invalid"
	CodeFilterFieldInvalid    = "filter_field_invalid"
	CodeJoinPathNotFound      = "join_path_not_found"
	CodeJoinRequired          = "join_required"
	CodeJoinPathUnreachable   = "join_path_unreachable"
	CodeTimeRangeMissing      = "time_range_missing"
	CodeTimeRangeInvalid      = "time_range_invalid"
	CodeTimeGrainRequired     = "time_grain_required"
	CodeTimeFieldMissing      = "time_field_missing"
	CodeFunctionNotAllowed    = "function_not_allowed"
	CodeAggNotAllowed         = "agg_not_allowed"
	CodeRequiredClauseMissing = "required_clause_missing"
)

// ValidationError 校验失败记录；一轮校验内全部累积后一起返回
type ValidationError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	FieldPath   string   `json:"field_path"`
	Suggestions []string `json:"suggestions"`
}

// HasCode reports whether any error in the list carries the code.
func HasCode(errs []ValidationError, code string) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}

// ErrorMessages returns the messages of every error, in order.
func ErrorMessages(errs []ValidationError) []string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return msgs
}
