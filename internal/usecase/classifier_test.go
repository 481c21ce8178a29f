package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"helpdesk-agent/internal/domain"
)

func TestClassify_KnowledgeQueries(t *testing.T) {
	queries := []string{
		"How do I reset my password?",
		"What is included in my subscription?",
		"Where can I find the FAQ?",
		"details about premium features",
	}
	for _, q := range queries {
		d := Classify(q)
		require.Equal(t, domain.CategoryKnowledge, d.Category, "query=%q", q)
		require.NotEmpty(t, d.Reason)
	}
}

func TestClassify_ActionQueries(t *testing.T) {
	queries := []string{
		"I want to book a reservation",
		"please reserve a spot for tomorrow",
		"buy two tickets",
	}
	for _, q := range queries {
		d := Classify(q)
		require.Equal(t, domain.CategoryAction, d.Category, "query=%q", q)
	}
}

func TestClassify_DefaultsToEscalation(t *testing.T) {
	queries := []string{
		"My account is completely broken and nothing works",
		"",
		"this is unacceptable",
	}
	for _, q := range queries {
		d := Classify(q)
		require.Equal(t, domain.CategoryEscalation, d.Category, "query=%q", q)
	}
}

func TestClassify_KnowledgePrecedesAction(t *testing.T) {
	// Queries matching both sets must always route to knowledge.
	queries := []string{
		"how do I book a tour",
		"what happens if I cancel",
		"can you update my login details",
	}
	for _, q := range queries {
		d := Classify(q)
		require.Equal(t, domain.CategoryKnowledge, d.Category, "query=%q", q)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	q := "How do I book a premium tour?"
	first := Classify(q)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Classify(q))
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	require.Equal(t, domain.CategoryKnowledge, Classify("WHAT IS THIS").Category)
	require.Equal(t, domain.CategoryAction, Classify("BOOK IT").Category)
}
