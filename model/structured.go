package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports malformed structured output from a model. It is a
// recoverable condition: callers count it against their attempt budget
// instead of failing the request.
type ParseError struct {
	Raw string
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed model output: %v", e.Err)
}

// Unwrap exposes the underlying decode error.
func (e *ParseError) Unwrap() error { return e.Err }

// Validator is implemented by per-stage result types to reject structurally
// valid JSON that violates the stage's contract (missing required fields,
// out-of-range confidences).
type Validator interface {
	Validate() error
}

// Decode strictly parses raw model output into out. Markdown code fences are
// tolerated since models wrap JSON in them despite instructions; anything
// else non-JSON is a ParseError. When out implements Validator its Validate
// result is enforced.
func Decode(raw string, out any) error {
	cleaned := stripFences(raw)
	dec := json.NewDecoder(strings.NewReader(cleaned))
	if err := dec.Decode(out); err != nil {
		return &ParseError{Raw: raw, Err: err}
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return &ParseError{Raw: raw, Err: err}
		}
	}
	return nil
}

// CallStructured runs one completion and decodes the response into out.
// Model transport errors are returned as-is; malformed output surfaces as a
// ParseError.
func CallStructured(ctx context.Context, m Model, req Request, out any) error {
	respCh, errCh := m.Generate(ctx, req)
	raw, err := Collect(ctx, respCh, errCh)
	if err != nil {
		return err
	}
	return Decode(raw, out)
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag, and trims whitespace.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// drop a language tag such as "json" on the fence line
		first := strings.TrimSpace(s[:idx])
		if first == "" || !strings.ContainsAny(first, "{[") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
