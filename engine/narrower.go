package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/voclabs/supportflow/core"
	"github.com/voclabs/supportflow/internal/util"
	"github.com/voclabs/supportflow/logging"
)

// queryResult is the structured output of search query generation.
type queryResult struct {
	SearchQuery string `json:"search_query"`
}

// matchResult is the structured output of candidate case scoring.
type matchResult struct {
	MatchedCases []core.CandidateMatch `json:"matched_cases"`
}

// Validate rejects entries without a case id or with out-of-range confidence.
func (r *matchResult) Validate() error {
	for _, m := range r.MatchedCases {
		if m.CaseID == "" {
			return fmt.Errorf("matched case without case_id")
		}
		if m.Confidence < 0 || m.Confidence > 1 {
			return fmt.Errorf("confidence %v out of range [0,1] for case %s", m.Confidence, m.CaseID)
		}
	}
	return nil
}

// narrowResult carries the narrowing verdict into reply formulation. Exactly
// one of resolved or a non-empty matches list is meaningful: resolved set
// means a single case won, otherwise matches are the ambiguous candidates.
type narrowResult struct {
	resolved *core.Case
	scored   []core.ScoredCase
	matches  []core.CandidateMatch
}

// narrow searches the knowledge store within the classified issue and scores
// the hits against the user's situation. The turn ends here (done=true) on
// retrieval failures, empty retrievals and escalation triggers; otherwise the
// result feeds the formulator. Retrievals that simply come back empty keep
// the issue open without charging the escalation budget; only transport
// failures count against it.
func (e *Engine) narrow(ctx context.Context, sess *core.Session, msg string, log logging.Logger) (narrowResult, outcome, bool) {
	ncfg := e.cfg.Flow.Narrowing

	query := e.generateQuery(ctx, sess, msg, log)
	scored, err := e.searcher.Search(ctx, query, ncfg.SearchTopK, sess.CurrentIssueType)
	if err != nil {
		if callErrorKind(err) == core.KindTimeout {
			return narrowResult{}, outcome{
				response: e.cfg.Fallbacks.TimeoutError,
				stage:    core.StageNarrowing,
				kind:     core.KindTimeout,
			}, true
		}
		log.Error("knowledge search failed", "query", query, "error", err)
		return narrowResult{}, e.failAttempt(sess, core.StageNarrowing, core.KindSearchUnavailable, log), true
	}
	if len(scored) == 0 {
		log.Info("no cases retrieved", "query", query, "issue_type", sess.CurrentIssueType)
		return narrowResult{}, outcome{
			response: e.cfg.Fallbacks.NoSearchResults,
			stage:    core.StageNarrowing,
			kind:     core.KindNoMatchingCases,
		}, true
	}
	sess.RAGUsed = true

	// A trigger phrase in the user's own words routes straight to a human.
	for _, sc := range scored {
		for _, trig := range sc.Case.EscalationTriggers {
			if trig != "" && strings.Contains(msg, trig) {
				sess.Escalate("escalation trigger matched: " + trig)
				log.Info("escalation trigger matched", "case_id", sc.Case.ID, "trigger", trig)
				return narrowResult{}, outcome{
					response: e.cfg.Fallbacks.Escalation,
					stage:    core.StageNarrowing,
				}, true
			}
		}
	}

	prompt, rerr := util.RenderTemplate(ncfg.MatchPrompt, map[string]any{
		"UserMessage":      msg,
		"CurrentIssue":     sess.CurrentIssueType,
		"CaseDescriptions": caseDescriptions(scored),
	})
	if rerr != nil {
		return narrowResult{}, e.failAttempt(sess, core.StageNarrowing, core.KindParseError, log), true
	}

	var res matchResult
	if cerr := e.callModel(ctx, core.StageNarrowing, prompt, &res, log); cerr != nil {
		kind := callErrorKind(cerr)
		if kind == core.KindTimeout {
			return narrowResult{}, outcome{
				response: e.cfg.Fallbacks.TimeoutError,
				stage:    core.StageNarrowing,
				kind:     core.KindTimeout,
			}, true
		}
		return narrowResult{}, e.failAttempt(sess, core.StageNarrowing, kind, log), true
	}

	matches := filterMatches(res.MatchedCases, scored, ncfg.MinMatchConfidence)
	if len(matches) == 0 {
		log.Info("no candidate cleared the match floor", "retrieved", len(scored))
		return narrowResult{}, outcome{
			response: e.cfg.Fallbacks.NeedMoreInfo,
			stage:    core.StageNarrowing,
			kind:     core.KindNoMatchingCases,
		}, true
	}
	core.SortMatches(matches)
	sess.SetCandidates(matches)

	top := matches[0]
	decisive := top.Confidence >= ncfg.ResolutionThreshold &&
		(len(matches) == 1 || top.Confidence-matches[1].Confidence > ncfg.TieMargin)
	if decisive {
		c := caseByID(scored, top.CaseID)
		sess.ResolvedCaseID = c.ID
		log.Info("case resolved", "case_id", c.ID, "confidence", top.Confidence)
		if err := e.searcher.RecordHit(ctx, c.ID); err != nil {
			log.Warn("record hit failed", "case_id", c.ID, "error", err)
		}
		return narrowResult{resolved: c, scored: scored, matches: matches}, outcome{}, false
	}

	log.Info("narrowing ambiguous",
		"candidates", len(matches),
		"top_confidence", top.Confidence,
	)
	return narrowResult{scored: scored, matches: matches}, outcome{}, false
}

// generateQuery condenses the conversation into a short search query. Any
// failure falls back to the raw user message; both paths are token-capped.
func (e *Engine) generateQuery(ctx context.Context, sess *core.Session, msg string, log logging.Logger) string {
	ncfg := e.cfg.Flow.Narrowing

	prompt, err := util.RenderTemplate(ncfg.QueryPrompt, map[string]any{
		"Context":   narrowingContext(sess, msg),
		"MaxTokens": ncfg.MaxQueryTokens,
	})
	if err != nil {
		log.Warn("query prompt render failed", "error", err)
		return util.TruncateTokens(msg, ncfg.MaxQueryTokens)
	}

	var res queryResult
	if err := e.callModel(ctx, core.StageNarrowing, prompt, &res, log); err != nil || strings.TrimSpace(res.SearchQuery) == "" {
		if err != nil {
			log.Warn("query generation failed, using raw message", "error", err)
		}
		return util.TruncateTokens(msg, ncfg.MaxQueryTokens)
	}
	return util.TruncateTokens(strings.TrimSpace(res.SearchQuery), ncfg.MaxQueryTokens)
}

// narrowingContext lists the recent exchange plus the current message for
// query generation.
func narrowingContext(sess *core.Session, msg string) string {
	var sb strings.Builder
	for _, t := range sess.RecentHistory(6) {
		role := "사용자"
		if t.Role == core.RoleAssistant {
			role = "상담봇"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, t.Text)
	}
	fmt.Fprintf(&sb, "사용자: %s", msg)
	return sb.String()
}

// caseDescriptions renders retrieved cases for the matching prompt.
func caseDescriptions(scored []core.ScoredCase) string {
	var sb strings.Builder
	for _, sc := range scored {
		c := sc.Case
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", c.ID, c.CaseName, c.Description)
		if len(c.Symptoms) > 0 {
			fmt.Fprintf(&sb, "  증상: %s\n", strings.Join(c.Symptoms, ", "))
		}
	}
	return strings.TrimSpace(sb.String())
}

// filterMatches drops hallucinated case ids and entries below the confidence
// floor. Duplicate ids keep their highest-confidence entry.
func filterMatches(matches []core.CandidateMatch, scored []core.ScoredCase, floor float64) []core.CandidateMatch {
	known := make(map[string]bool, len(scored))
	for _, sc := range scored {
		known[sc.Case.ID] = true
	}
	best := make(map[string]core.CandidateMatch)
	for _, m := range matches {
		if !known[m.CaseID] || m.Confidence < floor {
			continue
		}
		if prev, ok := best[m.CaseID]; !ok || m.Confidence > prev.Confidence {
			best[m.CaseID] = m
		}
	}
	out := make([]core.CandidateMatch, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	return out
}

func caseByID(scored []core.ScoredCase, id string) *core.Case {
	for i := range scored {
		if scored[i].Case.ID == id {
			c := scored[i].Case
			return &c
		}
	}
	return nil
}
