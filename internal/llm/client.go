// Package llm adapts chat models behind a two-method client used by the
// planner and the repair driver. Implementations must return a JSON object
// from GenerateJSON; anything else surfaces as a NotJSONError carrying the
// raw output so the caller can decide how to fail.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Client LLM 适配器接口
type Client interface {
	// GenerateJSON asks for a single JSON object. schema documents the
	// expected shape; implementations may embed or ignore it.
	GenerateJSON(ctx context.Context, prompt string, schema map[string]any) (map[string]any, error)

	// GenerateText asks for free-form text.
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// ErrTimeout marks an LLM transport timeout. Callers decide retry policy
// with errors.Is instead of matching message substrings.
var ErrTimeout = errors.New("llm request timed out")

// NotJSONError reports model output that is not a JSON object. Raw keeps
// the offending text for the fail-closed keyword scan.
type NotJSONError struct {
	Raw string
}

func (e *NotJSONError) Error() string {
	return "llm output is not a JSON object"
}

// wrapTimeout converts transport deadline failures into ErrTimeout.
func wrapTimeout(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// extractJSONObject returns the first balanced {...} span, skipping braces
// inside string literals.
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
