package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/voclabs/supportflow/core"
	"github.com/voclabs/supportflow/internal/util"
	"github.com/voclabs/supportflow/logging"
)

// classificationResult is the structured output of the issue classifier.
type classificationResult struct {
	IssueType  string  `json:"issue_type"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Validate rejects out-of-range confidences.
func (r *classificationResult) Validate() error {
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", r.Confidence)
	}
	return nil
}

// classify determines the session's issue type, assisted by knowledge store
// retrieval. Every rejected attempt, malformed or below the confidence
// threshold, charges the session's classification failure counter; crossing
// the escalation budget ends the turn on a forced escalation, and an
// exhausted attempt budget ends it on a clarification fallback.
//
// Returns done=true when the turn ends here.
func (e *Engine) classify(ctx context.Context, sess *core.Session, msg string, log logging.Logger) (outcome, bool) {
	ccfg := e.cfg.Flow.Classification

	contextSection := ""
	scored, err := e.searcher.Search(ctx, msg, ccfg.SearchTopK, "")
	switch {
	case err != nil:
		// Classification can proceed without retrieval context.
		log.Warn("knowledge search failed during classification", "error", err)
	case len(scored) > 0:
		sess.RAGUsed = true
		contextSection = classificationContext(scored)
	}

	prompt, rerr := util.RenderTemplate(ccfg.Prompt, map[string]any{
		"UserMessage":    msg,
		"ContextSection": contextSection,
	})
	if rerr != nil {
		return e.failAttempt(sess, core.StageClassification, core.KindClassificationFailed, log), true
	}

	var lastKind core.Kind = core.KindClassificationAmbiguous
	for attempt := 1; attempt <= ccfg.MaxAttempts; attempt++ {
		var res classificationResult
		if cerr := e.callModel(ctx, core.StageClassification, prompt, &res, log); cerr != nil {
			kind := callErrorKind(cerr)
			if kind == core.KindTimeout {
				return outcome{
					response: e.cfg.Fallbacks.TimeoutError,
					stage:    core.StageClassification,
					kind:     core.KindTimeout,
				}, true
			}
			if kind == core.KindModelUnavailable {
				return e.failAttempt(sess, core.StageClassification, core.KindModelUnavailable, log), true
			}
			// Malformed output: charge the rejected attempt and ask again.
			lastKind = core.KindClassificationFailed
			log.Debug("classification attempt malformed", "attempt", attempt)
			if out, escalated := e.rejectAttempt(sess, core.StageClassification, lastKind, log); escalated {
				return out, true
			}
			continue
		}

		if res.IssueType != "" && res.Confidence >= ccfg.ConfidenceThreshold {
			sess.CurrentIssueType = res.IssueType
			log.Info("issue classified",
				"issue_type", res.IssueType,
				"confidence", res.Confidence,
				"rag_used", sess.RAGUsed,
			)
			return outcome{confidence: res.Confidence}, false
		}
		lastKind = core.KindClassificationAmbiguous
		log.Debug("classification below threshold",
			"attempt", attempt,
			"issue_type", res.IssueType,
			"confidence", res.Confidence,
		)
		if out, escalated := e.rejectAttempt(sess, core.StageClassification, lastKind, log); escalated {
			return out, true
		}
	}

	return outcome{
		response: e.cfg.Fallbacks.For(lastKind),
		stage:    core.StageClassification,
		kind:     lastKind,
	}, true
}

// classificationContext renders retrieved cases as a reference section for
// the classification prompt.
func classificationContext(scored []core.ScoredCase) string {
	var sb strings.Builder
	sb.WriteString("참고할 수 있는 유사 사례:\n")
	seen := map[string]bool{}
	for _, sc := range scored {
		c := sc.Case
		if !seen[c.IssueType] {
			seen[c.IssueType] = true
			fmt.Fprintf(&sb, "- 이슈 타입 %q (%s)\n", c.IssueType, c.IssueName)
		}
		fmt.Fprintf(&sb, "  - %s: %s\n", c.CaseName, c.Description)
	}
	return strings.TrimSpace(sb.String())
}
