package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchKnowledge_ScoresAndRanks(t *testing.T) {
	store, fake := newTestStore(t)
	// Title substring (+10) plus one title word overlap (x2) beats a content
	// substring (+5) with tag (+3) and word overlaps.
	seedArticle(fake, "acct-1", "a1", "Reset your password", "Steps to reset it", "account")
	seedArticle(fake, "acct-1", "a2", "Account settings", "Change your password here", "password help")
	seedArticle(fake, "acct-1", "a3", "Shipping times", "Orders ship within five days", "shipping")

	result, err := store.SearchKnowledge(context.Background(), "acct-1", "password", 10)
	require.NoError(t, err)
	assert.True(t, result.Found)
	require.Len(t, result.Articles, 2)
	assert.Equal(t, "a1", result.Articles[0].ArticleID)
	assert.Equal(t, 12, result.Articles[0].RelevanceScore)
	assert.Equal(t, "a2", result.Articles[1].ArticleID)
	assert.Equal(t, 10, result.Articles[1].RelevanceScore)
	assert.Equal(t, 12, result.TopScore)
	assert.InDelta(t, 0.6, result.Confidence, 1e-9)
}

func TestSearchKnowledge_ConfidenceIsCapped(t *testing.T) {
	store, fake := newTestStore(t)
	// Full hit: title +10, content +5, tag +3, overlaps 2x2 + 2 + 1 = 25.
	seedArticle(fake, "acct-1", "a1", "refund policy", "our refund policy explained", "billing refund")

	result, err := store.SearchKnowledge(context.Background(), "acct-1", "refund policy", 10)
	require.NoError(t, err)
	assert.Equal(t, 25, result.TopScore)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestSearchKnowledge_NoMatches(t *testing.T) {
	store, fake := newTestStore(t)
	seedArticle(fake, "acct-1", "a1", "Shipping times", "Orders ship within five days", "shipping")

	result, err := store.SearchKnowledge(context.Background(), "acct-1", "quantum mechanics", 10)
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.Equal(t, NoResultsResponse, result.Response)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Empty(t, result.Articles)
}

func TestSearchKnowledge_BlankQueryMatchesNothing(t *testing.T) {
	store, fake := newTestStore(t)
	seedArticle(fake, "acct-1", "a1", "Shipping times", "Orders ship within five days", "shipping")

	result, err := store.SearchKnowledge(context.Background(), "acct-1", "   ", 10)
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.Equal(t, NoResultsResponse, result.Response)
}

func TestSearchKnowledge_DefaultLimit(t *testing.T) {
	store, fake := newTestStore(t)
	seedArticle(fake, "acct-1", "a1", "One", "", "billing")
	seedArticle(fake, "acct-1", "a2", "Two", "", "billing")
	seedArticle(fake, "acct-1", "a3", "Three", "", "billing")
	seedArticle(fake, "acct-1", "a4", "Four", "", "billing")

	result, err := store.SearchKnowledge(context.Background(), "acct-1", "billing", 0)
	require.NoError(t, err)
	assert.Len(t, result.Articles, 3)
}

func TestSearchKnowledge_ScopedToAccount(t *testing.T) {
	store, fake := newTestStore(t)
	seedArticle(fake, "acct-1", "a1", "Billing overview", "How billing works", "billing")
	seedArticle(fake, "acct-2", "b1", "Billing overview", "How billing works", "billing")

	result, err := store.SearchKnowledge(context.Background(), "acct-2", "billing", 10)
	require.NoError(t, err)
	require.Len(t, result.Articles, 1)
	assert.Equal(t, "b1", result.Articles[0].ArticleID)
}

func TestSearchKnowledge_TruncatesLongContent(t *testing.T) {
	store, fake := newTestStore(t)
	seedArticle(fake, "acct-1", "a1", "Billing overview", strings.Repeat("a", 600), "billing")

	result, err := store.SearchKnowledge(context.Background(), "acct-1", "billing", 10)
	require.NoError(t, err)
	assert.Contains(t, result.Response, strings.Repeat("a", 500)+"...")
	assert.NotContains(t, result.Response, strings.Repeat("a", 501))
}

func TestSearchKnowledge_FormatsArticles(t *testing.T) {
	store, fake := newTestStore(t)
	seedArticle(fake, "acct-1", "a1", "Billing overview", "How billing works", "billing")

	result, err := store.SearchKnowledge(context.Background(), "acct-1", "billing", 10)
	require.NoError(t, err)
	assert.Contains(t, result.Response, "**Billing overview**")
	assert.Contains(t, result.Response, "How billing works")
	assert.Contains(t, result.Response, "*Tags: billing*")
}

func TestSearchKnowledge_QueryError(t *testing.T) {
	store, fake := newTestStore(t)
	fake.queryErr = errors.New("throttled")

	_, err := store.SearchKnowledge(context.Background(), "acct-1", "billing", 10)
	require.ErrorContains(t, err, "SearchKnowledge")
}
