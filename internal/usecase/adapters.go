package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"helpdesk-agent/internal/domain"
)

const (
	maxToolRounds       = 5
	defaultArticleLimit = 3
	confidenceThreshold = 0.3
)

// escalationKeywords mark a query as needing human follow-up regardless of
// how confident the knowledge response looks.
var escalationKeywords = []string{
	"complaint", "problem", "issue", "wrong", "error", "bug", "refund", "cancel",
}

// runConfig carries the per-dispatch model and system prompt resolved from
// SSM by the service.
type runConfig struct {
	model        string
	systemPrompt string
}

// adapter handles one category. Handle appends the assistant message to the
// state, persists it best-effort, and returns the answer plus the next
// category (its own category when terminal).
type adapter interface {
	Handle(ctx context.Context, cfg runConfig, state *domain.ConversationState) (answer string, next domain.Category, err error)
}

// adapterDeps is the shared machinery behind all three adapters: memory
// augmentation, preference capture, the bounded tool-call loop, and
// best-effort persistence of the assistant turn.
type adapterDeps struct {
	llm             LLMClient
	memory          MemoryStore
	tools           ToolRunner
	store           SupportStore
	logger          *slog.Logger
	maxContextTurns int
}

type knowledgeAdapter struct{ deps *adapterDeps }
type actionAdapter struct{ deps *adapterDeps }
type escalationAdapter struct{ deps *adapterDeps }

func (a *knowledgeAdapter) Handle(ctx context.Context, cfg runConfig, state *domain.ConversationState) (string, domain.Category, error) {
	query := state.LatestUserMessage()
	a.deps.capturePreference(ctx, state)
	memoryBlock := a.deps.memoryContext(ctx, state)

	kb, err := a.deps.store.SearchKnowledge(ctx, state.AccountID, query, defaultArticleLimit)
	if err != nil {
		return "", "", newError(ErrorInternal, "knowledge_search_error", err)
	}
	a.deps.logger.Debug("knowledge search",
		"found", kb.Found, "confidence", kb.Confidence, "topScore", kb.TopScore)

	contextBlock := joinBlocks(memoryBlock, "Knowledge base results:\n"+kb.Response)
	answer, err := a.deps.converse(ctx, cfg, state, contextBlock, a.deps.tools.KnowledgeDefinitions())
	if err != nil {
		return "", "", err
	}
	a.deps.persistAssistantTurn(ctx, state, answer)

	next := domain.CategoryKnowledge
	if queryHasEscalationKeyword(query) || responseConfidence(answer) < confidenceThreshold {
		next = domain.CategoryEscalation
	}
	return answer, next, nil
}

func (a *actionAdapter) Handle(ctx context.Context, cfg runConfig, state *domain.ConversationState) (string, domain.Category, error) {
	a.deps.capturePreference(ctx, state)
	memoryBlock := a.deps.memoryContext(ctx, state)

	answer, err := a.deps.converse(ctx, cfg, state, memoryBlock, a.deps.tools.ActionDefinitions())
	if err != nil {
		return "", "", err
	}
	a.deps.persistAssistantTurn(ctx, state, answer)
	return answer, domain.CategoryAction, nil
}

func (a *escalationAdapter) Handle(ctx context.Context, cfg runConfig, state *domain.ConversationState) (string, domain.Category, error) {
	memoryBlock := a.deps.memoryContext(ctx, state)

	answer, err := a.deps.converse(ctx, cfg, state, memoryBlock, a.deps.tools.ActionDefinitions())
	if err != nil {
		return "", "", err
	}
	a.deps.persistAssistantTurn(ctx, state, answer)
	a.deps.documentEscalation(ctx, state)
	return answer, domain.CategoryEscalation, nil
}

// documentEscalation records the hand-off on the ticket: a system message
// plus a status change. Both writes are best-effort.
func (d *adapterDeps) documentEscalation(ctx context.Context, state *domain.ConversationState) {
	if strings.TrimSpace(state.TicketID) == "" {
		return
	}
	if _, err := d.store.CreateTicketMessage(ctx, state.TicketID, "system", "Conversation escalated to human support."); err != nil {
		d.logger.Warn("escalation ticket message failed", "ticketId", state.TicketID, "err", err)
	}
	if _, err := d.store.UpdateTicketStatus(ctx, state.TicketID, "escalated", ""); err != nil {
		d.logger.Warn("escalation status update failed", "ticketId", state.TicketID, "err", err)
	}
}

// converse runs the bounded tool-call loop: send the conversation, execute
// any requested tools, feed results back, stop at the first text answer. The
// final assistant message is appended to the state.
func (d *adapterDeps) converse(ctx context.Context, cfg runConfig, state *domain.ConversationState, contextBlock string, defs []domain.ToolDefinition) (string, error) {
	messages := make([]domain.ChatMessage, 0, len(state.Messages)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: cfg.systemPrompt})
	if contextBlock != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: contextBlock})
	}
	messages = append(messages, state.Messages...)

	for round := 0; round < maxToolRounds; round++ {
		result, err := d.llm.Chat(ctx, cfg.model, messages, defs)
		if err != nil {
			if status, ok := upstreamStatusCode(err); ok && status == 429 {
				return "", newError(ErrorRateLimited, "openai_rate_limited", err)
			}
			return "", newError(ErrorUpstream, "openai_error", err)
		}

		if len(result.ToolCalls) == 0 {
			answer := strings.TrimSpace(result.Content)
			if answer == "" {
				return "", newError(ErrorUpstream, "openai_empty_response", nil)
			}
			state.Messages = append(state.Messages, domain.ChatMessage{Role: domain.RoleAssistant, Content: answer})
			return answer, nil
		}

		messages = append(messages, domain.ChatMessage{
			Role:      domain.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})
		for _, call := range result.ToolCalls {
			out, dispatchErr := d.tools.Dispatch(ctx, state.AccountID, call.Name, json.RawMessage(call.Arguments))
			if dispatchErr != nil {
				return "", newError(ErrorInternal, "tool_dispatch_error", dispatchErr)
			}
			messages = append(messages, domain.ChatMessage{
				Role:       domain.RoleTool,
				ToolCallID: call.ID,
				Content:    out,
			})
		}
	}
	return "", newError(ErrorUpstream, "tool_rounds_exhausted", nil)
}

// memoryContext loads recent turns and preferences for a known user and
// renders them as an advisory block. Read failures degrade to an empty
// block; the response must not depend on memory availability.
func (d *adapterDeps) memoryContext(ctx context.Context, state *domain.ConversationState) string {
	if !knownUser(state.UserID) {
		return ""
	}
	turns, err := d.memory.GetTurns(ctx, state.UserID, state.TicketID, d.maxContextTurns)
	if err != nil {
		d.logger.Warn("memory read failed", "userId", state.UserID, "ticketId", state.TicketID, "err", err)
		turns = nil
	}
	prefs, err := d.memory.GetAllPreferences(ctx, state.UserID)
	if err != nil {
		d.logger.Warn("preference read failed", "userId", state.UserID, "err", err)
		prefs = nil
	}
	state.Preferences = prefs
	return buildMemoryContext(turns, prefs)
}

// capturePreference upserts an explicitly stated preference, best-effort.
func (d *adapterDeps) capturePreference(ctx context.Context, state *domain.ConversationState) {
	if !knownUser(state.UserID) {
		return
	}
	key, value, ok := extractPreference(state.LatestUserMessage())
	if !ok {
		return
	}
	if err := d.memory.SetPreference(ctx, state.UserID, key, value); err != nil {
		d.logger.Warn("preference write failed", "userId", state.UserID, "key", key, "err", err)
		return
	}
	if state.Preferences == nil {
		state.Preferences = map[string]string{}
	}
	state.Preferences[key] = value
}

// persistAssistantTurn appends the outbound turn for a known user,
// best-effort: a failed write is logged and the answer still returned.
func (d *adapterDeps) persistAssistantTurn(ctx context.Context, state *domain.ConversationState, answer string) {
	if !knownUser(state.UserID) {
		return
	}
	if _, err := d.memory.AppendTurn(ctx, state.UserID, state.TicketID, domain.RoleAssistant, answer); err != nil {
		d.logger.Warn("assistant turn write failed", "userId", state.UserID, "ticketId", state.TicketID, "err", err)
	}
}

func queryHasEscalationKeyword(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range escalationKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// responseConfidence scores a knowledge response by its own wording:
// an explicit no-results phrase means certainty that nothing was found, and
// hedging language means low confidence.
func responseConfidence(response string) float64 {
	r := strings.ToLower(response)
	switch {
	case strings.Contains(r, "no relevant information found"):
		return 0.0
	case strings.Contains(r, "don't know"), strings.Contains(r, "uncertain"):
		return 0.2
	}
	return 1.0
}

func knownUser(userID string) bool {
	id := strings.TrimSpace(userID)
	return id != "" && !strings.EqualFold(id, "unknown")
}

func joinBlocks(blocks ...string) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if strings.TrimSpace(b) != "" {
			parts = append(parts, b)
		}
	}
	return strings.Join(parts, "\n\n")
}
