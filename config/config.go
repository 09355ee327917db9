// Package config holds the typed conversation configuration: per-stage
// prompt templates, confidence thresholds, attempt budgets, session
// management limits and the deterministic fallback responses. Configuration
// loads from YAML with defaults mirroring the production conversation
// config; every prompt template is parsed and placeholder-checked at load
// time so a broken template fails startup instead of a live turn.
package config

import (
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voclabs/supportflow/core"
)

// Config is the root conversation configuration.
type Config struct {
	Flow       FlowConfig       `yaml:"conversation_flow"`
	Management ManagementConfig `yaml:"conversation_management"`
	Fallbacks  Fallbacks        `yaml:"fallback_responses"`
}

// FlowConfig groups the per-stage settings.
type FlowConfig struct {
	Continuity     ContinuityConfig     `yaml:"topic_continuity"`
	Classification ClassificationConfig `yaml:"issue_classification"`
	Narrowing      NarrowingConfig      `yaml:"case_narrowing"`
	Formulation    FormulationConfig    `yaml:"reply_formulation"`

	// JSONInstruction is appended to every structured prompt so the model
	// answers with bare JSON.
	JSONInstruction string `yaml:"json_parse_instruction"`
}

// ContinuityConfig configures the topic continuity classifier.
type ContinuityConfig struct {
	Prompt string `yaml:"prompt"`
}

// ClassificationConfig configures the issue classifier.
type ClassificationConfig struct {
	Prompt              string  `yaml:"prompt"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MaxAttempts         int     `yaml:"max_classification_attempts"`
	SearchTopK          int     `yaml:"search_top_k"`
}

// NarrowingConfig configures the case narrower.
type NarrowingConfig struct {
	QueryPrompt         string  `yaml:"search_query_prompt"`
	MatchPrompt         string  `yaml:"case_matching_prompt"`
	ResolutionThreshold float64 `yaml:"confidence_threshold"`
	MinMatchConfidence  float64 `yaml:"min_match_confidence"`
	TieMargin           float64 `yaml:"tie_break_margin"`
	MaxQuestions        int     `yaml:"max_disambiguation_questions"`
	SearchTopK          int     `yaml:"search_top_k"`
	MaxQueryTokens      int     `yaml:"max_query_tokens"`
}

// FormulationConfig configures the reply formulator.
type FormulationConfig struct {
	DisambiguationPrompt string `yaml:"disambiguation_prompt"`
	SolutionPrompt       string `yaml:"solution_prompt"`
}

// ManagementConfig bounds the conversation as a whole.
type ManagementConfig struct {
	SessionTimeoutMinutes         int `yaml:"session_timeout_minutes"`
	MaxConversationTurns          int `yaml:"max_conversation_turns"`
	ContextRetentionTurns         int `yaml:"context_retention_turns"`
	EscalationAfterFailedAttempts int `yaml:"escalation_after_failed_attempts"`
	RequestTimeoutSeconds         int `yaml:"request_timeout_seconds"`
	MaxUserMessageLength          int `yaml:"max_user_message_length"`
}

// SessionTimeout returns the idle timeout as a duration.
func (m ManagementConfig) SessionTimeout() time.Duration {
	return time.Duration(m.SessionTimeoutMinutes) * time.Minute
}

// RequestTimeout returns the per-request pipeline budget as a duration.
func (m ManagementConfig) RequestTimeout() time.Duration {
	return time.Duration(m.RequestTimeoutSeconds) * time.Second
}

// Fallbacks holds the deterministic user-facing messages, one per recognized
// failure kind.
type Fallbacks struct {
	ClassificationUnclear string `yaml:"classification_unclear"`
	NoSearchResults       string `yaml:"no_search_results"`
	NoMatchingCases       string `yaml:"no_matching_cases"`
	NeedMoreInfo          string `yaml:"need_more_info"`
	Escalation            string `yaml:"escalation"`
	GeneralError          string `yaml:"general_error"`
	SearchError           string `yaml:"search_error"`
	LLMError              string `yaml:"llm_error"`
	TimeoutError          string `yaml:"timeout_error"`
	SessionTimeout        string `yaml:"session_timeout"`
	MaxTurnsReached       string `yaml:"max_turns_reached"`
}

// For maps a failure kind to its deterministic message. Unknown kinds fall
// back to the general error message.
func (f Fallbacks) For(kind core.Kind) string {
	switch kind {
	case core.KindClassificationAmbiguous, core.KindClassificationFailed:
		return f.ClassificationUnclear
	case core.KindParseError, core.KindModelUnavailable:
		return f.LLMError
	case core.KindSearchUnavailable:
		return f.SearchError
	case core.KindTimeout:
		return f.TimeoutError
	case core.KindMaxTurnsExceeded:
		return f.MaxTurnsReached
	case core.KindSessionExpired:
		return f.SessionTimeout
	case core.KindNoMatchingCases:
		return f.NoMatchingCases
	default:
		return f.GeneralError
	}
}

// Load reads YAML from path, overlaying it on the defaults, and validates
// the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// promptSpec ties a prompt template to the placeholders it must reference.
type promptSpec struct {
	name         string
	text         string
	placeholders []string
}

// Validate checks thresholds, budgets, and every prompt template: the
// template must parse and must reference each of its required placeholders.
func (c *Config) Validate() error {
	checks := []struct {
		name     string
		value    float64
		min, max float64
	}{
		{"issue_classification.confidence_threshold", c.Flow.Classification.ConfidenceThreshold, 0, 1},
		{"case_narrowing.confidence_threshold", c.Flow.Narrowing.ResolutionThreshold, 0, 1},
		{"case_narrowing.min_match_confidence", c.Flow.Narrowing.MinMatchConfidence, 0, 1},
		{"case_narrowing.tie_break_margin", c.Flow.Narrowing.TieMargin, 0, 1},
		{"conversation_management.max_conversation_turns", float64(c.Management.MaxConversationTurns), 1, 100},
		{"conversation_management.escalation_after_failed_attempts", float64(c.Management.EscalationAfterFailedAttempts), 1, 10},
	}
	for _, ck := range checks {
		if ck.value < ck.min || ck.value > ck.max {
			return fmt.Errorf("invalid value for %s: %v (allowed %v-%v)", ck.name, ck.value, ck.min, ck.max)
		}
	}
	if c.Flow.Classification.MaxAttempts < 1 {
		return fmt.Errorf("issue_classification.max_classification_attempts must be >= 1")
	}
	if c.Flow.Narrowing.MaxQuestions < 1 {
		return fmt.Errorf("case_narrowing.max_disambiguation_questions must be >= 1")
	}

	prompts := []promptSpec{
		{"topic_continuity.prompt", c.Flow.Continuity.Prompt, []string{"Context", "UserMessage"}},
		{"issue_classification.prompt", c.Flow.Classification.Prompt, []string{"UserMessage", "ContextSection"}},
		{"case_narrowing.search_query_prompt", c.Flow.Narrowing.QueryPrompt, []string{"Context", "MaxTokens"}},
		{"case_narrowing.case_matching_prompt", c.Flow.Narrowing.MatchPrompt, []string{"UserMessage", "CurrentIssue", "CaseDescriptions"}},
		{"reply_formulation.disambiguation_prompt", c.Flow.Formulation.DisambiguationPrompt, []string{"UserMessage", "CaseDescriptions", "CandidateQuestions"}},
		{"reply_formulation.solution_prompt", c.Flow.Formulation.SolutionPrompt, []string{"CaseName", "UserMessage", "SolutionSteps"}},
	}
	for _, p := range prompts {
		if err := checkPrompt(p); err != nil {
			return err
		}
	}
	return nil
}

func checkPrompt(p promptSpec) error {
	if strings.TrimSpace(p.text) == "" {
		return fmt.Errorf("prompt %s is empty", p.name)
	}
	if _, err := template.New(p.name).Option("missingkey=error").Parse(p.text); err != nil {
		return fmt.Errorf("prompt %s does not parse: %w", p.name, err)
	}
	for _, ph := range p.placeholders {
		if !strings.Contains(p.text, "{{."+ph+"}}") {
			return fmt.Errorf("prompt %s is missing required placeholder {{.%s}}", p.name, ph)
		}
	}
	return nil
}
