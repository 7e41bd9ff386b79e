package bm25

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/cstpd/internal/model"
)

func decisionWithText(id, summary, context string, tags ...string) model.Decision {
	return model.Decision{ID: id, Summary: summary, Context: context, Tags: tags}
}

func TestTokenize(t *testing.T) {
	require.Equal(t, []string{"use", "oauth2", "for", "sso"}, Tokenize("Use OAuth2 for SSO"))
}

func TestIndexSearchRanksRelevantDocHighest(t *testing.T) {
	decisions := []model.Decision{
		decisionWithText("aaaa1111", "migrate database to postgres", "the legacy mysql setup could not scale"),
		decisionWithText("bbbb2222", "adopt trunk-based development", "feature branches were causing long-lived merge conflicts"),
		decisionWithText("cccc3333", "use postgres for the audit log", "postgres gives us row-level security for audit records"),
	}

	idx := FromDecisions(decisions)
	results := idx.Search("postgres audit", 10)

	require.NotEmpty(t, results)
	require.Equal(t, "cccc3333", results[0].DocID)
}

func TestIndexSearchEmptyQuery(t *testing.T) {
	idx := FromDecisions([]model.Decision{decisionWithText("aaaa1111", "x", "y")})
	require.Empty(t, idx.Search("   ", 10))
}

func TestIndexSearchEmptyCorpus(t *testing.T) {
	idx := FromDecisions(nil)
	require.Empty(t, idx.Search("anything", 10))
}

func TestNormalizeScores(t *testing.T) {
	norm := NormalizeScores([]Result{{DocID: "a", Score: 4}, {DocID: "b", Score: 2}, {DocID: "c", Score: 0}})
	require.InDelta(t, 1.0, norm["a"], 1e-9)
	require.InDelta(t, 0.5, norm["b"], 1e-9)
	require.InDelta(t, 0.0, norm["c"], 1e-9)
}

func TestNormalizeScoresZeroRange(t *testing.T) {
	norm := NormalizeScores([]Result{{DocID: "a", Score: 3}, {DocID: "b", Score: 3}})
	require.Equal(t, 1.0, norm["a"])
	require.Equal(t, 1.0, norm["b"])
}

func TestCacheRebuildsOnCountChange(t *testing.T) {
	cache := NewCache()
	idx1 := cache.Get([]model.Decision{decisionWithText("a", "x", "")})
	idx2 := cache.Get([]model.Decision{decisionWithText("a", "x", ""), decisionWithText("b", "y", "")})
	require.NotSame(t, idx1, idx2)
}

func TestCacheReturnsSameIndexWhenStable(t *testing.T) {
	cache := NewCache()
	decisions := []model.Decision{decisionWithText("a", "x", "")}
	idx1 := cache.Get(decisions)
	idx2 := cache.Get(decisions)
	require.Same(t, idx1, idx2)
}
