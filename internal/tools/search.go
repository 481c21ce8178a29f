package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"helpdesk-agent/internal/domain"
)

// NoResultsResponse is the canned text returned when a knowledge search
// finds nothing relevant. The knowledge adapter keys its escalation rule off
// this phrase.
const NoResultsResponse = "No relevant information found in the knowledge base."

// SearchKnowledge ranks an account's knowledge articles against the query.
//
// Scoring: +10 if the query is a substring of the title, +5 if of the
// content, +3 if any query word appears in the tags, plus word-overlap counts
// weighted title ×2, content ×1, tags ×1. Results sort descending by score;
// the top limit are returned. Confidence is min(topScore/20, 1.0).
func (s *Store) SearchKnowledge(ctx context.Context, accountID, query string, limit int) (domain.KnowledgeResult, error) {
	if limit <= 0 {
		limit = 3
	}

	articles, err := s.listArticles(ctx, accountID)
	if err != nil {
		return domain.KnowledgeResult{}, fmt.Errorf("tools: SearchKnowledge: %w", err)
	}

	queryLower := strings.ToLower(strings.TrimSpace(query))
	queryWords := wordSet(queryLower)

	scored := make([]domain.KnowledgeArticle, 0, len(articles))
	for _, article := range articles {
		titleLower := strings.ToLower(article.Title)
		contentLower := strings.ToLower(article.Content)
		tagsLower := strings.ToLower(article.Tags)

		score := 0
		if queryLower != "" && strings.Contains(titleLower, queryLower) {
			score += 10
		}
		if queryLower != "" && strings.Contains(contentLower, queryLower) {
			score += 5
		}
		if anyWordIn(queryWords, tagsLower) {
			score += 3
		}

		score += overlap(queryWords, wordSet(titleLower))*2 +
			overlap(queryWords, wordSet(contentLower)) +
			overlap(queryWords, wordSet(tagsLower))

		if score > 0 {
			article.RelevanceScore = score
			scored = append(scored, article)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	if len(scored) == 0 {
		return domain.KnowledgeResult{Response: NoResultsResponse, Confidence: 0.0, Found: false}, nil
	}

	topScore := scored[0].RelevanceScore
	confidence := float64(topScore) / 20.0
	if confidence > 1.0 {
		confidence = 1.0
	}

	return domain.KnowledgeResult{
		Response:   formatArticles(scored),
		Confidence: confidence,
		Found:      true,
		TopScore:   topScore,
		Articles:   scored,
	}, nil
}

func formatArticles(articles []domain.KnowledgeArticle) string {
	parts := make([]string, 0, len(articles))
	for _, article := range articles {
		content := article.Content
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		parts = append(parts, fmt.Sprintf("**%s**\n%s\n*Tags: %s*\n*Relevance: %d*",
			article.Title, content, article.Tags, article.RelevanceScore))
	}
	return strings.Join(parts, "\n---\n")
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(s)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

func anyWordIn(words map[string]struct{}, haystack string) bool {
	for w := range words {
		if strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}
