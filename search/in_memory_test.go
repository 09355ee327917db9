package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voclabs/supportflow/internal/testutil"
)

func TestSearchRanksKeywordHitsFirst(t *testing.T) {
	idx := NewInMemoryIndex(testutil.SampleCases())

	got, err := idx.Search(context.Background(), "비밀번호 재설정", 5, "")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "acct-001", got[0].Case.ID)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i].Score, got[i-1].Score)
	}
}

func TestSearchFiltersByIssueType(t *testing.T) {
	idx := NewInMemoryIndex(testutil.SampleCases())

	got, err := idx.Search(context.Background(), "결제 환불", 5, "payment")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, sc := range got {
		assert.Equal(t, "payment", sc.Case.IssueType)
	}

	got, err = idx.Search(context.Background(), "결제 환불", 5, "account")
	require.NoError(t, err)
	assert.Empty(t, got, "payment keywords must not match account cases")
}

func TestSearchHonorsTopK(t *testing.T) {
	idx := NewInMemoryIndex(testutil.SampleCases())

	got, err := idx.Search(context.Background(), "계정 로그인 잠금", 1, "account")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSearchNoHits(t *testing.T) {
	idx := NewInMemoryIndex(testutil.SampleCases())

	got, err := idx.Search(context.Background(), "날씨 알려줘", 5, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchEmptyQuery(t *testing.T) {
	idx := NewInMemoryIndex(testutil.SampleCases())

	got, err := idx.Search(context.Background(), "   ", 5, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecordHit(t *testing.T) {
	idx := NewInMemoryIndex(testutil.SampleCases())
	require.NoError(t, idx.RecordHit(context.Background(), "acct-001"))
	require.NoError(t, idx.RecordHit(context.Background(), "acct-001"))
	assert.Equal(t, 2, idx.Hits("acct-001"))
	assert.Zero(t, idx.Hits("acct-002"))
}
