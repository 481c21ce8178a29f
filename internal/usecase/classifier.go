package usecase

import (
	"fmt"
	"strings"

	"helpdesk-agent/internal/domain"
)

// knowledgeTerms and actionTerms drive routing. The knowledge check runs
// first, so a query matching both sets routes to knowledge. Queries matching
// neither set route to escalation.
var knowledgeTerms = []string{
	"how", "what", "why", "when", "where", "who",
	"faq", "help", "guide", "login", "password",
	"subscription", "premium", "included", "information", "details", "features",
}

var actionTerms = []string{
	"book", "reserve", "cancel", "update", "change", "create", "make",
	"buy", "purchase", "add", "remove", "delete", "modify", "set",
}

// Classify maps a raw query to a handler category. Pure and total: every
// input, including the empty string, resolves to a category.
func Classify(query string) domain.RoutingDecision {
	q := strings.ToLower(query)
	if term, ok := firstMatch(q, knowledgeTerms); ok {
		return domain.RoutingDecision{
			Category: domain.CategoryKnowledge,
			Reason:   fmt.Sprintf("query contains %q", term),
		}
	}
	if term, ok := firstMatch(q, actionTerms); ok {
		return domain.RoutingDecision{
			Category: domain.CategoryAction,
			Reason:   fmt.Sprintf("query contains %q", term),
		}
	}
	return domain.RoutingDecision{
		Category: domain.CategoryEscalation,
		Reason:   "no routing term matched",
	}
}

func firstMatch(query string, terms []string) (string, bool) {
	for _, term := range terms {
		if strings.Contains(query, term) {
			return term, true
		}
	}
	return "", false
}
