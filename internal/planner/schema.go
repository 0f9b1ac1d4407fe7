package planner

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"plansql/internal/model"
)

// Plan DSL 的 JSON Schema（Draft-7）。所有结构性约束以这份文档为准：
// 结构违规在语义校验之前拦截，start/end 与 time_grain 故意不设为
// required，让 time_range_missing / time_grain_required 走语义错误码。
//
//go:embed plan_schema.json
var planSchemaJSON []byte

// Validator checks plan maps in two layers: the embedded Draft-7 schema
// first, then the evidence-bound semantic rules. Both layers are pure
// functions of their inputs, so validation is idempotent and safe to rerun
// after repair.
type Validator struct {
	schema    *jsonschema.Schema
	schemaDoc map[string]any
	printer   *message.Printer
}

// NewValidator compiles the embedded plan schema once.
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(planSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse plan schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("plan_schema.json", doc); err != nil {
		return nil, fmt.Errorf("register plan schema: %w", err)
	}
	schema, err := compiler.Compile("plan_schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	var schemaDoc map[string]any
	if err := json.Unmarshal(planSchemaJSON, &schemaDoc); err != nil {
		return nil, fmt.Errorf("decode plan schema document: %w", err)
	}

	return &Validator{
		schema:    schema,
		schemaDoc: schemaDoc,
		printer:   message.NewPrinter(language.English),
	}, nil
}

// SchemaDoc returns the plan schema as a generic document for prompt
// embedding. Callers must not mutate it.
func (v *Validator) SchemaDoc() map[string]any {
	return v.schemaDoc
}

// ValidateSchema runs only the structural layer. One error per leaf
// violation, message verbatim from the schema engine.
func (v *Validator) ValidateSchema(plan map[string]any) []model.ValidationError {
	if plan == nil {
		return []model.ValidationError{notJSONError()}
	}
	err := v.schema.Validate(any(plan))
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []model.ValidationError{{
			Code:      model.CodeSchema,
			Message:   err.Error(),
			FieldPath: "$",
		}}
	}
	out := make([]model.ValidationError, 0, 4)
	v.flatten(verr, &out)
	return out
}

// flatten walks the cause tree and keeps the leaves; inner nodes only
// restate their children.
func (v *Validator) flatten(err *jsonschema.ValidationError, out *[]model.ValidationError) {
	if len(err.Causes) == 0 {
		*out = append(*out, model.ValidationError{
			Code:      model.CodeSchema,
			Message:   err.ErrorKind.LocalizedString(v.printer),
			FieldPath: instancePath(err.InstanceLocation),
		})
		return
	}
	for _, cause := range err.Causes {
		v.flatten(cause, out)
	}
}

func instancePath(location []string) string {
	if len(location) == 0 {
		return "$"
	}
	return strings.Join(location, ".")
}

func notJSONError() model.ValidationError {
	return model.ValidationError{
		Code:      model.CodeNotJSON,
		Message:   "plan is not a JSON object",
		FieldPath: "$",
	}
}
