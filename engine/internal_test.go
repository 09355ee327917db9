package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voclabs/supportflow/core"
)

func TestSanitize(t *testing.T) {
	got, err := sanitize("  안녕하세요  ", 100)
	require.NoError(t, err)
	assert.Equal(t, "안녕하세요", got)

	_, err = sanitize("   ", 100)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	got, err = sanitize(strings.Repeat("가", 50), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, len([]rune(got)))

	got, err = sanitize("줄1\n줄2\x00\x07", 100)
	require.NoError(t, err)
	assert.Equal(t, "줄1\n줄2", got)
}

func TestFilterMatchesDropsHallucinatedAndLowConfidence(t *testing.T) {
	scored := []core.ScoredCase{
		{Case: core.Case{ID: "a"}},
		{Case: core.Case{ID: "b"}},
	}
	matches := []core.CandidateMatch{
		{CaseID: "a", Confidence: 0.9},
		{CaseID: "a", Confidence: 0.4}, // duplicate keeps the higher entry
		{CaseID: "b", Confidence: 0.3}, // below floor
		{CaseID: "ghost", Confidence: 0.95},
	}

	got := filterMatches(matches, scored, 0.5)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].CaseID)
	assert.Equal(t, 0.9, got[0].Confidence)
}

func TestUnaskedQuestionsFollowConfidenceOrder(t *testing.T) {
	sess := core.NewSession("s1")
	sess.MarkQuestionAsked("q1")

	nr := narrowResult{
		scored: []core.ScoredCase{
			{Case: core.Case{ID: "a", QuestionsToAsk: []string{"q1", "q2"}}},
			{Case: core.Case{ID: "b", QuestionsToAsk: []string{"q2", "q3"}}},
		},
		matches: []core.CandidateMatch{
			{CaseID: "b", Confidence: 0.9},
			{CaseID: "a", Confidence: 0.8},
		},
	}

	got := unaskedQuestions(sess, nr)
	assert.Equal(t, []string{"q2", "q3"}, got, "top candidate's questions come first, asked ones drop")
}

func TestCallErrorKindUnwrapsTypedFailures(t *testing.T) {
	fail := core.NewFailure(core.KindSearchUnavailable, core.StageNarrowing, errors.New("index offline"))
	assert.Equal(t, core.KindSearchUnavailable, callErrorKind(fmt.Errorf("narrow: %w", fail)))
	assert.Equal(t, core.KindTimeout, callErrorKind(context.DeadlineExceeded))
	assert.Equal(t, core.KindTimeout, callErrorKind(context.Canceled))
	assert.Equal(t, core.KindModelUnavailable, callErrorKind(errors.New("connection refused")))
}

func TestOutcomeTransportErrorKinds(t *testing.T) {
	assert.True(t, outcome{kind: core.KindParseError}.transportError())
	assert.True(t, outcome{kind: core.KindModelUnavailable}.transportError())
	assert.True(t, outcome{kind: core.KindSearchUnavailable}.transportError())
	assert.True(t, outcome{kind: core.KindTimeout}.transportError())
	assert.False(t, outcome{kind: core.KindClassificationAmbiguous}.transportError())
	assert.False(t, outcome{kind: core.KindMaxTurnsExceeded}.transportError())
	assert.False(t, outcome{}.transportError())
}
