package planner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"plansql/internal/llm"
	"plansql/internal/model"
)

// repairPlan sends the failed plan back to the model for exactly one repair
// round. The repaired map replaces the old one wholesale; revalidation is the
// caller's job. No timeout retry here: the plan call already proved the
// payload fits.
func (p *Planner) repairPlan(ctx context.Context, plan map[string]any, errs []model.ValidationError, evidence model.EvidenceBundle) (map[string]any, error) {
	prompt := buildRepairPrompt(plan, errs, evidence, p.validator.SchemaDoc())
	repaired, err := p.client.GenerateJSON(ctx, prompt, p.validator.SchemaDoc())
	if err != nil {
		var notJSON *llm.NotJSONError
		if errors.As(err, &notJSON) {
			return nil, model.E(model.KindLLMRepairOutputNotJSON, "repair output is not a JSON object")
		}
		return nil, fmt.Errorf("repair llm call: %w", err)
	}
	p.log.Debug("repair round finished", zap.Int("input_errors", len(errs)))
	return normalizeJSON(repaired), nil
}
