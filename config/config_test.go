package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voclabs/supportflow/core"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 0.7, cfg.Flow.Classification.ConfidenceThreshold)
	assert.Equal(t, 2, cfg.Flow.Classification.MaxAttempts)
	assert.Equal(t, 0.8, cfg.Flow.Narrowing.ResolutionThreshold)
	assert.Equal(t, 4, cfg.Flow.Narrowing.MaxQuestions)
	assert.Equal(t, 20, cfg.Management.MaxConversationTurns)
	assert.Equal(t, 10, cfg.Management.ContextRetentionTurns)
	assert.Equal(t, 3, cfg.Management.EscalationAfterFailedAttempts)
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	cfg := Default()
	cfg.Flow.Classification.ConfidenceThreshold = 1.5
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence_threshold")
}

func TestValidateRejectsMissingPlaceholder(t *testing.T) {
	cfg := Default()
	cfg.Flow.Continuity.Prompt = "판단하세요: {{.UserMessage}}" // no {{.Context}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{{.Context}}")
}

func TestValidateRejectsBrokenTemplate(t *testing.T) {
	cfg := Default()
	cfg.Flow.Formulation.SolutionPrompt = "{{.CaseName}} {{.UserMessage}} {{.SolutionSteps}} {{if}}"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not parse")
}

func TestValidateRejectsEmptyPrompt(t *testing.T) {
	cfg := Default()
	cfg.Flow.Classification.Prompt = "  "
	require.Error(t, cfg.Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conversation.yaml")
	yaml := `
conversation_management:
  session_timeout_minutes: 5
  max_conversation_turns: 8
fallback_responses:
  escalation: "상담원을 연결합니다."
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Management.SessionTimeoutMinutes)
	assert.Equal(t, 8, cfg.Management.MaxConversationTurns)
	assert.Equal(t, "상담원을 연결합니다.", cfg.Fallbacks.Escalation)
	// untouched keys keep their defaults
	assert.Equal(t, 0.7, cfg.Flow.Classification.ConfidenceThreshold)
	assert.NotEmpty(t, cfg.Flow.Continuity.Prompt)
}

func TestLoadRejectsInvalidOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conversation.yaml")
	yaml := `
conversation_management:
  max_conversation_turns: 0
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestFallbackMapping(t *testing.T) {
	f := Default().Fallbacks
	assert.Equal(t, f.ClassificationUnclear, f.For(core.KindClassificationAmbiguous))
	assert.Equal(t, f.ClassificationUnclear, f.For(core.KindClassificationFailed))
	assert.Equal(t, f.LLMError, f.For(core.KindParseError))
	assert.Equal(t, f.LLMError, f.For(core.KindModelUnavailable))
	assert.Equal(t, f.SearchError, f.For(core.KindSearchUnavailable))
	assert.Equal(t, f.TimeoutError, f.For(core.KindTimeout))
	assert.Equal(t, f.MaxTurnsReached, f.For(core.KindMaxTurnsExceeded))
	assert.Equal(t, f.SessionTimeout, f.For(core.KindSessionExpired))
	assert.Equal(t, f.NoMatchingCases, f.For(core.KindNoMatchingCases))
	assert.Equal(t, f.GeneralError, f.For(core.Kind("unknown")))
}

func TestDurationHelpers(t *testing.T) {
	m := Default().Management
	assert.Equal(t, 30*60, int(m.SessionTimeout().Seconds()))
	assert.Equal(t, 30, int(m.RequestTimeout().Seconds()))
}
