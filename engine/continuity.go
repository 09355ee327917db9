package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/voclabs/supportflow/core"
	"github.com/voclabs/supportflow/internal/util"
	"github.com/voclabs/supportflow/logging"
)

// continuityResult is the structured verdict of the topic continuity check.
type continuityResult struct {
	IsContinuation bool   `json:"is_continuation"`
	Reason         string `json:"reason"`
}

// checkContinuity decides whether msg continues the issue in flight. Any
// model or parse failure defaults to continuation: misreading a follow-up as
// a new topic destroys accumulated state, the reverse costs nothing.
func (e *Engine) checkContinuity(ctx context.Context, sess *core.Session, msg string, log logging.Logger) bool {
	prompt, err := util.RenderTemplate(e.cfg.Flow.Continuity.Prompt, map[string]any{
		"Context":     continuityContext(sess),
		"UserMessage": msg,
	})
	if err != nil {
		log.Warn("continuity prompt render failed", "error", err)
		return true
	}

	var res continuityResult
	if err := e.callModel(ctx, core.StageContinuity, prompt, &res, log); err != nil {
		log.Warn("continuity check failed, assuming continuation", "error", err)
		return true
	}
	log.Debug("continuity verdict", "is_continuation", res.IsContinuation, "reason", res.Reason)
	return res.IsContinuation
}

// continuityContext summarizes the in-flight issue and recent exchanges for
// the continuity prompt.
func continuityContext(sess *core.Session) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "현재 이슈: %s\n", sess.CurrentIssueType)
	if sess.ResolvedCaseID != "" {
		fmt.Fprintf(&sb, "확정된 케이스: %s\n", sess.ResolvedCaseID)
	}
	for _, t := range sess.RecentHistory(6) {
		role := "사용자"
		if t.Role == core.RoleAssistant {
			role = "상담봇"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, t.Text)
	}
	return strings.TrimSpace(sb.String())
}
