package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/voclabs/supportflow/core"
	"github.com/voclabs/supportflow/internal/util"
	"github.com/voclabs/supportflow/logging"
)

// solutionResult is the structured output of solution formulation.
type solutionResult struct {
	Response string `json:"response"`
}

// Validate rejects empty replies.
func (r *solutionResult) Validate() error {
	if strings.TrimSpace(r.Response) == "" {
		return fmt.Errorf("empty response")
	}
	return nil
}

// questionResult is the structured output of disambiguation phrasing.
type questionResult struct {
	Question string `json:"question"`
}

// formulateSolution walks the user through the resolved case's documented
// steps. The model only rephrases; if it fails, the steps go out verbatim so
// a formulation hiccup never blocks a resolved case. Delivering the solution
// resolves the session.
func (e *Engine) formulateSolution(ctx context.Context, sess *core.Session, msg string, nr narrowResult, log logging.Logger) outcome {
	c := nr.resolved
	top := nr.matches[0]

	response := ""
	prompt, err := util.RenderTemplate(e.cfg.Flow.Formulation.SolutionPrompt, map[string]any{
		"CaseName":      c.CaseName,
		"UserMessage":   msg,
		"SolutionSteps": numberedSteps(c.SolutionSteps),
	})
	if err == nil {
		var res solutionResult
		if cerr := e.callModel(ctx, core.StageFormulation, prompt, &res, log); cerr == nil {
			response = strings.TrimSpace(res.Response)
		} else {
			log.Warn("solution formulation failed, using documented steps", "case_id", c.ID, "error", cerr)
		}
	}
	if response == "" {
		response = verbatimSolution(c)
	}

	sess.TransitionTo(core.StatusResolved)
	log.Info("solution delivered", "case_id", c.ID, "confidence", top.Confidence)
	return outcome{
		response:   response,
		stage:      core.StageFormulation,
		confidence: top.Confidence,
		matchedIDs: matchIDs(nr.matches),
	}
}

// formulateQuestion asks one disambiguating question chosen from the
// candidate cases' documented questions, skipping anything already asked.
// The session-wide question budget and question exhaustion both escalate.
func (e *Engine) formulateQuestion(ctx context.Context, sess *core.Session, msg string, nr narrowResult, log logging.Logger) outcome {
	ncfg := e.cfg.Flow.Narrowing

	if sess.QuestionsAsked() >= ncfg.MaxQuestions {
		sess.Escalate("disambiguation question budget exhausted")
		log.Info("question budget exhausted", "questions_asked", sess.QuestionsAsked())
		return outcome{
			response:   e.cfg.Fallbacks.Escalation,
			stage:      core.StageFormulation,
			matchedIDs: matchIDs(nr.matches),
		}
	}

	candidates := unaskedQuestions(sess, nr)
	if len(candidates) == 0 {
		sess.Escalate("no disambiguating question left")
		log.Info("candidate questions exhausted", "candidates", len(nr.matches))
		return outcome{
			response:   e.cfg.Fallbacks.Escalation,
			stage:      core.StageFormulation,
			matchedIDs: matchIDs(nr.matches),
		}
	}

	// The first unasked question belongs to the highest-confidence case;
	// the model may pick or rephrase but never invent.
	question := candidates[0]
	prompt, err := util.RenderTemplate(e.cfg.Flow.Formulation.DisambiguationPrompt, map[string]any{
		"UserMessage":        msg,
		"CaseDescriptions":   caseDescriptions(nr.scored),
		"CandidateQuestions": "- " + strings.Join(candidates, "\n- "),
	})
	if err == nil {
		var res questionResult
		if cerr := e.callModel(ctx, core.StageFormulation, prompt, &res, log); cerr == nil {
			q := strings.TrimSpace(res.Question)
			if q != "" && !sess.HasAskedQuestion(q) {
				question = q
			}
		} else {
			log.Warn("question phrasing failed, using documented question", "error", cerr)
		}
	}

	sess.MarkQuestionAsked(question)
	log.Info("disambiguation question asked",
		"questions_asked", sess.QuestionsAsked(),
		"candidates", len(nr.matches),
	)
	return outcome{
		response:   question,
		stage:      core.StageFormulation,
		confidence: nr.matches[0].Confidence,
		matchedIDs: matchIDs(nr.matches),
	}
}

// unaskedQuestions collects candidate questions in match-confidence order,
// deduplicated and filtered against the session's asked list.
func unaskedQuestions(sess *core.Session, nr narrowResult) []string {
	byID := make(map[string]core.Case, len(nr.scored))
	for _, sc := range nr.scored {
		byID[sc.Case.ID] = sc.Case
	}
	var out []string
	seen := map[string]bool{}
	for _, m := range nr.matches {
		for _, q := range byID[m.CaseID].QuestionsToAsk {
			if q == "" || seen[q] || sess.HasAskedQuestion(q) {
				continue
			}
			seen[q] = true
			out = append(out, q)
		}
	}
	return out
}

func numberedSteps(steps []string) string {
	var sb strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}
	return strings.TrimSpace(sb.String())
}

// verbatimSolution renders the documented steps without model involvement.
func verbatimSolution(c *core.Case) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%q 문제로 확인되었습니다. 아래 단계를 따라 진행해 주세요.\n\n", c.CaseName)
	sb.WriteString(numberedSteps(c.SolutionSteps))
	return sb.String()
}

func matchIDs(matches []core.CandidateMatch) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.CaseID
	}
	return out
}
