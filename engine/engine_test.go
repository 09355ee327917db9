package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voclabs/supportflow/config"
	"github.com/voclabs/supportflow/core"
	"github.com/voclabs/supportflow/engine"
	"github.com/voclabs/supportflow/internal/testutil"
	"github.com/voclabs/supportflow/model"
	"github.com/voclabs/supportflow/retry"
	"github.com/voclabs/supportflow/search"
	"github.com/voclabs/supportflow/session"
	"github.com/voclabs/supportflow/turnlog"
)

type fixture struct {
	mock  *model.MockModel
	store *session.InMemoryStore
	log   *turnlog.InMemoryLog
	cfg   *config.Config
	eng   *engine.Engine
}

func newFixture(t *testing.T, optFns ...func(o *engine.Options)) *fixture {
	t.Helper()
	f := &fixture{
		mock:  model.NewMockModel("mock"),
		store: session.NewInMemoryStore(),
		log:   turnlog.NewInMemoryLog(),
		cfg:   config.Default(),
	}
	idx := search.NewInMemoryIndex(testutil.SampleCases())
	base := func(o *engine.Options) {
		o.Store = f.store
		o.TurnLog = f.log
		o.Config = f.cfg
		o.Retry = retry.Policy{MaxAttempts: 1}
	}
	f.eng = engine.New(f.mock, idx, append([]func(o *engine.Options){base}, optFns...)...)
	return f
}

func (f *fixture) session(t *testing.T, id string) *core.Session {
	t.Helper()
	sess, err := f.store.Load(context.Background(), id)
	require.NoError(t, err)
	return sess
}

func enqueueHappyPath(m *model.MockModel) {
	m.Enqueue(`{"issue_type": "account", "confidence": 0.92, "reason": "계정 관련 문의"}`)
	m.Enqueue(`{"search_query": "비밀번호 재설정"}`)
	m.Enqueue(`{"matched_cases": [{"case_id": "acct-001", "confidence": 0.93, "reason": "증상 일치"}]}`)
	m.Enqueue(`{"response": "비밀번호 찾기를 눌러 재설정 링크로 변경해 주세요."}`)
}

func TestHappyPathResolvesCase(t *testing.T) {
	f := newFixture(t)
	enqueueHappyPath(f.mock)

	events, errCh := f.eng.Process(context.Background(), engine.Request{
		SessionID: "s1",
		Message:   "비밀번호를 잊어버려서 로그인할 수 없어요",
	})

	var seen []engine.Event
	for ev := range events {
		seen = append(seen, ev)
	}
	require.NoError(t, <-errCh)

	require.Len(t, seen, 5)
	assert.Equal(t, engine.EventStarted, seen[0].Type)
	assert.Equal(t, core.StageClassification, seen[1].Stage)
	assert.Equal(t, core.StageNarrowing, seen[2].Stage)
	assert.Equal(t, core.StageFormulation, seen[3].Stage)

	final := seen[4]
	assert.Equal(t, engine.EventCompleted, final.Type)
	assert.Contains(t, final.Response, "재설정")
	require.NotNil(t, final.Metadata)
	assert.Equal(t, core.StatusResolved, final.Metadata.SessionStatus)
	assert.Equal(t, "account", final.Metadata.CurrentIssueType)
	assert.Equal(t, "acct-001", final.Metadata.ResolvedCaseID)
	assert.Equal(t, 0.93, final.Metadata.Confidence)
	assert.True(t, final.Metadata.RAGUsed)
	assert.Equal(t, []string{"acct-001"}, final.Metadata.MatchedCaseIDs)
	assert.Equal(t, 1, final.Metadata.TurnCount)

	sess := f.session(t, "s1")
	assert.Equal(t, core.StatusResolved, sess.Status)
	assert.Equal(t, "acct-001", sess.ResolvedCaseID)
	assert.Len(t, sess.History, 2)

	require.Eventually(t, func() bool {
		return len(f.log.BySession("s1")) == 1
	}, time.Second, 10*time.Millisecond, "turn record must land without blocking the reply")
	rec := f.log.BySession("s1")[0]
	assert.Equal(t, "account", rec.CurrentIssue)
	assert.Equal(t, "acct-001", rec.CurrentCase)
	assert.True(t, rec.RAGUsed)
	assert.False(t, rec.Escalated)

	require.NotNil(t, rec.Summary, "a terminal turn carries the session summary")
	assert.True(t, rec.Summary.CaseDetermined)
	assert.Equal(t, core.StatusResolved, rec.Summary.Status)
	assert.Equal(t, 1, rec.Summary.TotalTurns)
}

func TestTieAsksOneUnduplicatedQuestion(t *testing.T) {
	f := newFixture(t)
	f.mock.Enqueue(`{"issue_type": "account", "confidence": 0.9, "reason": "계정"}`)
	f.mock.Enqueue(`{"search_query": "로그인 계정 잠금"}`)
	f.mock.Enqueue(`{"matched_cases": [
		{"case_id": "acct-001", "confidence": 0.85, "reason": "a"},
		{"case_id": "acct-002", "confidence": 0.83, "reason": "b"}
	]}`)
	f.mock.Enqueue(`{"question": "가입하신 이메일 주소로 접근이 가능하신가요?"}`)

	res, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1",
		Message:   "로그인이 안 되는데 계정에 문제가 있는 것 같아요",
	})
	require.NoError(t, err)

	assert.Equal(t, "가입하신 이메일 주소로 접근이 가능하신가요?", res.Response)
	assert.Equal(t, core.StatusActive, res.Metadata.SessionStatus)
	assert.Empty(t, res.Metadata.ResolvedCaseID)
	assert.ElementsMatch(t, []string{"acct-001", "acct-002"}, res.Metadata.MatchedCaseIDs)

	sess := f.session(t, "s1")
	assert.Equal(t, 1, sess.QuestionsAsked())
	require.Len(t, sess.CandidateList(), 2)
	assert.Equal(t, "acct-001", sess.CandidateList()[0].CaseID)
}

func TestContinuationResolvesAfterAnswer(t *testing.T) {
	f := newFixture(t)
	// turn 1: ambiguous
	f.mock.Enqueue(`{"issue_type": "account", "confidence": 0.9, "reason": "계정"}`)
	f.mock.Enqueue(`{"search_query": "로그인 계정 잠금"}`)
	f.mock.Enqueue(`{"matched_cases": [
		{"case_id": "acct-001", "confidence": 0.85, "reason": "a"},
		{"case_id": "acct-002", "confidence": 0.83, "reason": "b"}
	]}`)
	f.mock.Enqueue(`{"question": "가입하신 이메일 주소로 접근이 가능하신가요?"}`)

	_, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "로그인이 안 돼요 계정 문제 같아요",
	})
	require.NoError(t, err)

	// turn 2: the user answers, continuity holds, narrowing becomes decisive
	f.mock.Enqueue(`{"is_continuation": true, "reason": "질문에 대한 답변"}`)
	f.mock.Enqueue(`{"search_query": "비밀번호 로그인"}`)
	f.mock.Enqueue(`{"matched_cases": [{"case_id": "acct-001", "confidence": 0.95, "reason": "확정"}]}`)
	f.mock.Enqueue(`{"response": "비밀번호 찾기로 재설정해 주세요."}`)

	res, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "네, 이메일은 접근 가능해요",
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusResolved, res.Metadata.SessionStatus)
	assert.Equal(t, "acct-001", res.Metadata.ResolvedCaseID)
	assert.Equal(t, 2, res.Metadata.TurnCount)
}

func TestTopicChangeResetsIssueState(t *testing.T) {
	f := newFixture(t)
	// turn 1: classified account, ambiguous question
	f.mock.Enqueue(`{"issue_type": "account", "confidence": 0.9, "reason": "계정"}`)
	f.mock.Enqueue(`{"search_query": "로그인 계정 잠금"}`)
	f.mock.Enqueue(`{"matched_cases": [
		{"case_id": "acct-001", "confidence": 0.85, "reason": "a"},
		{"case_id": "acct-002", "confidence": 0.83, "reason": "b"}
	]}`)
	f.mock.Enqueue(`{"question": "가입하신 이메일 주소로 접근이 가능하신가요?"}`)
	_, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "로그인이 안 돼요",
	})
	require.NoError(t, err)

	// turn 2: new topic, classification reruns as payment
	f.mock.Enqueue(`{"is_continuation": false, "reason": "무관한 새 주제"}`)
	f.mock.Enqueue(`{"issue_type": "payment", "confidence": 0.88, "reason": "결제"}`)
	f.mock.Enqueue(`{"search_query": "중복 결제 환불"}`)
	f.mock.Enqueue(`{"matched_cases": [{"case_id": "pay-001", "confidence": 0.9, "reason": "중복"}]}`)
	f.mock.Enqueue(`{"response": "환불 요청을 접수해 드리겠습니다."}`)

	res, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "그건 됐고 결제가 두 번 청구됐어요",
	})
	require.NoError(t, err)
	assert.Equal(t, "payment", res.Metadata.CurrentIssueType)
	assert.Equal(t, "pay-001", res.Metadata.ResolvedCaseID)

	sess := f.session(t, "s1")
	assert.Zero(t, sess.QuestionsAsked(), "issue reset must clear the asked-question list")
}

func TestMalformedClassificationEscalatesAfterBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// MaxAttempts is 2, so the first turn burns two malformed replies and
	// charges the failure counter once per rejected attempt.
	f.mock.Enqueue("이건 JSON이 아닙니다")
	f.mock.Enqueue("여전히 JSON이 아님")
	res, err := f.eng.Respond(ctx, engine.Request{SessionID: "s1", Message: "문제가 있어요"})
	require.NoError(t, err)
	assert.Equal(t, f.cfg.Fallbacks.ClassificationUnclear, res.Response)
	assert.Equal(t, core.StatusActive, res.Metadata.SessionStatus)
	assert.Equal(t, 2, f.session(t, "s1").FailureCount(core.StageClassification))

	// the very next malformed reply is the third failure and escalates
	// without spending the remaining attempt
	f.mock.Enqueue("아직도 JSON이 아님")
	res, err = f.eng.Respond(ctx, engine.Request{SessionID: "s1", Message: "아직도 안 돼요"})
	require.NoError(t, err)
	assert.Equal(t, f.cfg.Fallbacks.Escalation, res.Response)
	assert.Equal(t, core.StatusEscalated, res.Metadata.SessionStatus)
	assert.Equal(t, 3, f.mock.Calls(), "escalation must stop the retry loop")

	sess := f.session(t, "s1")
	assert.Equal(t, 3, sess.FailureCount(core.StageClassification))
	assert.Equal(t, core.StatusEscalated, sess.Status)
}

func TestEachRejectedClassificationAttemptCounts(t *testing.T) {
	f := newFixture(t)
	f.cfg.Flow.Classification.MaxAttempts = 3

	f.mock.Enqueue("이건 JSON이 아닙니다")
	f.mock.Enqueue("여전히 JSON이 아님")
	f.mock.Enqueue("마지막도 JSON이 아님")
	res, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "문제가 있어요",
	})
	require.NoError(t, err)

	sess := f.session(t, "s1")
	assert.Equal(t, 3, sess.FailureCount(core.StageClassification),
		"three consecutive malformed replies must count as three failures")
	assert.Equal(t, core.StatusEscalated, res.Metadata.SessionStatus)
}

func TestTerminalSessionRestartsSilently(t *testing.T) {
	now := time.Now()
	f := newFixture(t, func(o *engine.Options) {
		o.Clock = func() time.Time { return now }
	})

	enqueueHappyPath(f.mock)
	_, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "비밀번호를 잊어버렸어요",
	})
	require.NoError(t, err)

	// resolved is terminal; the next message restarts without a notice
	now = now.Add(31 * time.Minute)
	f.mock.Enqueue(`{"issue_type": "account", "confidence": 0.9, "reason": "계정"}`)
	f.mock.Enqueue(`{"search_query": "계정 잠금"}`)
	f.mock.Enqueue(`{"matched_cases": [{"case_id": "acct-002", "confidence": 0.9, "reason": "잠금"}]}`)
	f.mock.Enqueue(`{"response": "30분 후 다시 시도해 주세요."}`)

	res, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "계정이 잠겼다고 나와요",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Metadata.TurnCount, "restart must zero the turn counter")
	assert.Equal(t, "acct-002", res.Metadata.ResolvedCaseID)
}

func TestIdleActiveSessionGetsTimeoutNotice(t *testing.T) {
	now := time.Now()
	f := newFixture(t, func(o *engine.Options) {
		o.Clock = func() time.Time { return now }
	})

	// turn 1 leaves the session active on a disambiguation question
	f.mock.Enqueue(`{"issue_type": "account", "confidence": 0.9, "reason": "계정"}`)
	f.mock.Enqueue(`{"search_query": "로그인 계정 잠금"}`)
	f.mock.Enqueue(`{"matched_cases": [
		{"case_id": "acct-001", "confidence": 0.85, "reason": "a"},
		{"case_id": "acct-002", "confidence": 0.83, "reason": "b"}
	]}`)
	f.mock.Enqueue(`{"question": "가입하신 이메일 주소로 접근이 가능하신가요?"}`)
	_, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "로그인이 안 돼요",
	})
	require.NoError(t, err)

	now = now.Add(31 * time.Minute)
	enqueueHappyPath(f.mock)
	res, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "비밀번호를 잊어버렸어요",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Response, f.cfg.Fallbacks.SessionTimeout)
	assert.Equal(t, 1, res.Metadata.TurnCount)

	sess := f.session(t, "s1")
	assert.Zero(t, sess.QuestionsAsked(), "restart must drop prior issue state")
}

func TestTurnBudgetForcesEscalation(t *testing.T) {
	f := newFixture(t)
	f.cfg.Management.MaxConversationTurns = 1

	res, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "도와주세요",
	})
	require.NoError(t, err)

	assert.Equal(t, f.cfg.Fallbacks.MaxTurnsReached, res.Response)
	assert.Equal(t, core.StatusEscalated, res.Metadata.SessionStatus)
	assert.Equal(t, string(core.KindMaxTurnsExceeded), res.Metadata.ErrorKind)
	assert.Zero(t, f.mock.Calls(), "budget escalation must not spend model calls")
}

func TestEscalationTriggerRoutesToHuman(t *testing.T) {
	f := newFixture(t)
	f.mock.Enqueue(`{"issue_type": "account", "confidence": 0.9, "reason": "계정"}`)
	f.mock.Enqueue(`{"search_query": "비밀번호 로그인"}`)

	res, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "계정 도용을 당한 것 같아요, 비밀번호도 안 먹혀요",
	})
	require.NoError(t, err)

	assert.Equal(t, f.cfg.Fallbacks.Escalation, res.Response)
	assert.Equal(t, core.StatusEscalated, res.Metadata.SessionStatus)
	assert.Contains(t, res.Metadata.EscalationReason, "계정 도용")
	assert.Equal(t, 2, f.mock.Calls(), "trigger match must skip case scoring")
}

func TestIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	enqueueHappyPath(f.mock)
	ctx := context.Background()

	first, err := f.eng.Respond(ctx, engine.Request{
		SessionID: "s1", Message: "비밀번호를 잊어버렸어요", RequestID: "req-1",
	})
	require.NoError(t, err)
	calls := f.mock.Calls()

	second, err := f.eng.Respond(ctx, engine.Request{
		SessionID: "s1", Message: "비밀번호를 잊어버렸어요", RequestID: "req-1",
	})
	require.NoError(t, err)

	assert.Equal(t, first.Response, second.Response)
	assert.True(t, second.Metadata.Replayed)
	assert.Equal(t, calls, f.mock.Calls(), "replay must not re-run the pipeline")
}

// abortingModel cancels the caller's context on first use, simulating a
// client that disconnects while a model call is in flight.
type abortingModel struct {
	cancel context.CancelFunc
}

func (m *abortingModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response)
	errCh := make(chan error, 1)
	m.cancel()
	errCh <- context.Canceled
	close(respCh)
	close(errCh)
	return respCh, errCh
}

func (m *abortingModel) Info() model.Info {
	return model.Info{Name: "aborting", Provider: "mock"}
}

func TestClientCancelDiscardsTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := session.NewInMemoryStore()
	idx := search.NewInMemoryIndex(testutil.SampleCases())
	eng := engine.New(&abortingModel{cancel: cancel}, idx, func(o *engine.Options) {
		o.Store = store
		o.Retry = retry.Policy{MaxAttempts: 1}
	})

	_, err := eng.Respond(ctx, engine.Request{SessionID: "s1", Message: "로그인이 안 돼요"})
	require.ErrorIs(t, err, context.Canceled)

	sess, err := store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Zero(t, sess.TurnCount, "a canceled turn must not commit")
	assert.Empty(t, sess.History)
	assert.Equal(t, core.StatusActive, sess.Status)
}

// statusRecordingStore captures the status of every committed snapshot.
type statusRecordingStore struct {
	*session.InMemoryStore
	mu       sync.Mutex
	statuses []core.Status
}

func (s *statusRecordingStore) Save(ctx context.Context, sess *core.Session) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, sess.Status)
	s.mu.Unlock()
	return s.InMemoryStore.Save(ctx, sess)
}

func TestIdleExpiryPersistsTimedOutSnapshot(t *testing.T) {
	now := time.Now()
	store := &statusRecordingStore{InMemoryStore: session.NewInMemoryStore()}
	f := newFixture(t, func(o *engine.Options) {
		o.Store = store
		o.Clock = func() time.Time { return now }
	})

	// turn 1 leaves the session active on a disambiguation question
	f.mock.Enqueue(`{"issue_type": "account", "confidence": 0.9, "reason": "계정"}`)
	f.mock.Enqueue(`{"search_query": "로그인 계정 잠금"}`)
	f.mock.Enqueue(`{"matched_cases": [
		{"case_id": "acct-001", "confidence": 0.85, "reason": "a"},
		{"case_id": "acct-002", "confidence": 0.83, "reason": "b"}
	]}`)
	f.mock.Enqueue(`{"question": "가입하신 이메일 주소로 접근이 가능하신가요?"}`)
	_, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "로그인이 안 돼요",
	})
	require.NoError(t, err)

	now = now.Add(31 * time.Minute)
	enqueueHappyPath(f.mock)
	_, err = f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "비밀번호를 잊어버렸어요",
	})
	require.NoError(t, err)

	require.Len(t, store.statuses, 3)
	assert.Equal(t, core.StatusActive, store.statuses[0])
	assert.Equal(t, core.StatusTimedOut, store.statuses[1],
		"the expired conversation closes as timed_out before the restart")
	assert.Equal(t, core.StatusResolved, store.statuses[2])
}

func TestEmptyMessageRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Respond(context.Background(), engine.Request{SessionID: "s1", Message: "   "})
	require.ErrorIs(t, err, engine.ErrEmptyMessage)
	assert.Zero(t, f.mock.Calls())
}

func TestMissingSessionIDRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Respond(context.Background(), engine.Request{Message: "hello"})
	require.ErrorIs(t, err, engine.ErrMissingSessionID)
}

func TestQuestionBudgetEscalates(t *testing.T) {
	f := newFixture(t)
	f.cfg.Flow.Narrowing.MaxQuestions = 1

	// turn 1 asks the single allowed question
	f.mock.Enqueue(`{"issue_type": "account", "confidence": 0.9, "reason": "계정"}`)
	f.mock.Enqueue(`{"search_query": "로그인 계정 잠금"}`)
	f.mock.Enqueue(`{"matched_cases": [
		{"case_id": "acct-001", "confidence": 0.85, "reason": "a"},
		{"case_id": "acct-002", "confidence": 0.83, "reason": "b"}
	]}`)
	f.mock.Enqueue(`{"question": "가입하신 이메일 주소로 접근이 가능하신가요?"}`)
	_, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "로그인이 안 돼요",
	})
	require.NoError(t, err)

	// turn 2 stays ambiguous with the budget spent
	f.mock.Enqueue(`{"is_continuation": true, "reason": "답변"}`)
	f.mock.Enqueue(`{"search_query": "로그인 계정 잠금"}`)
	f.mock.Enqueue(`{"matched_cases": [
		{"case_id": "acct-001", "confidence": 0.84, "reason": "a"},
		{"case_id": "acct-002", "confidence": 0.82, "reason": "b"}
	]}`)
	res, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "잘 모르겠어요",
	})
	require.NoError(t, err)
	assert.Equal(t, f.cfg.Fallbacks.Escalation, res.Response)
	assert.Equal(t, core.StatusEscalated, res.Metadata.SessionStatus)
}

func TestNoSearchResultsFallsBack(t *testing.T) {
	f := newFixture(t)
	f.mock.Enqueue(`{"issue_type": "account", "confidence": 0.9, "reason": "계정"}`)
	f.mock.Enqueue(`{"search_query": "날씨"}`)

	res, err := f.eng.Respond(context.Background(), engine.Request{
		SessionID: "s1", Message: "뭔가 이상해요",
	})
	require.NoError(t, err)
	assert.Equal(t, f.cfg.Fallbacks.NoSearchResults, res.Response)
	assert.Equal(t, string(core.KindNoMatchingCases), res.Metadata.ErrorKind)

	sess := f.session(t, "s1")
	assert.Zero(t, sess.FailureCount(core.StageNarrowing),
		"an empty retrieval is not a failed attempt")
}

func TestEmptyRetrievalsNeverEscalate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// more empty turns than the failure budget allows for real failures
	for turn := 1; turn <= 4; turn++ {
		if turn == 1 {
			f.mock.Enqueue(`{"issue_type": "account", "confidence": 0.9, "reason": "계정"}`)
		} else {
			f.mock.Enqueue(`{"is_continuation": true, "reason": "이어짐"}`)
		}
		f.mock.Enqueue(`{"search_query": "날씨"}`)

		res, err := f.eng.Respond(ctx, engine.Request{SessionID: "s1", Message: "뭔가 이상해요"})
		require.NoError(t, err)
		assert.Equal(t, f.cfg.Fallbacks.NoSearchResults, res.Response)
		assert.Equal(t, core.StatusActive, res.Metadata.SessionStatus)
	}

	sess := f.session(t, "s1")
	assert.Zero(t, sess.FailureCount(core.StageNarrowing))
	assert.Equal(t, core.StatusActive, sess.Status)
}
