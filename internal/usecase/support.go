package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"

	"helpdesk-agent/internal/domain"
)

const (
	defaultMaxContextTurns = 10
	defaultMaxQueryLen     = 300
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, tools []domain.ToolDefinition) (domain.ChatResult, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

type MemoryStore interface {
	AppendTurn(ctx context.Context, userID, ticketID, role, content string) (string, error)
	GetTurns(ctx context.Context, userID, ticketID string, limit int) ([]domain.Turn, error)
	SetPreference(ctx context.Context, userID, key, value string) error
	GetAllPreferences(ctx context.Context, userID string) (map[string]string, error)
}

type ToolRunner interface {
	KnowledgeDefinitions() []domain.ToolDefinition
	ActionDefinitions() []domain.ToolDefinition
	Dispatch(ctx context.Context, accountID, name string, args json.RawMessage) (string, error)
}

type SupportStore interface {
	SearchKnowledge(ctx context.Context, accountID, query string, limit int) (domain.KnowledgeResult, error)
	CreateTicketMessage(ctx context.Context, ticketID, role, content string) (domain.MessageResult, error)
	UpdateTicketStatus(ctx context.Context, ticketID, status, tags string) (domain.UpdateResult, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// SupportService is the orchestrator: it validates the query, appends the
// inbound turn, classifies, dispatches to the matching adapter and follows
// at most one knowledge-to-escalation re-route. A single request never
// triggers more than two adapter dispatches.
type SupportService struct {
	params          ParamGetter
	llm             LLMClient
	memory          MemoryStore
	adapters        map[domain.Category]adapter
	logger          *slog.Logger
	paramPrefix     string
	maxContextTurns int
	maxQueryLen     int

	cacheMu     sync.RWMutex
	cacheLoaded bool
	prompts     map[domain.Category]string
	openaiModel string
}

type RequestInput struct {
	Query     string
	UserID    string
	TicketID  string
	AccountID string
}

type RequestOutput struct {
	Answer   string
	Category domain.Category
	TicketID string
}

func NewSupportService(p ParamGetter, llm LLMClient, memory MemoryStore, store SupportStore, tools ToolRunner, paramPrefix string, maxContextTurns, maxQueryLen int) (*SupportService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if memory == nil {
		return nil, errors.New("usecase: memory store must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: support store must not be nil")
	}
	if tools == nil {
		return nil, errors.New("usecase: tool runner must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxContextTurns <= 0 {
		maxContextTurns = defaultMaxContextTurns
	}
	if maxQueryLen <= 0 {
		maxQueryLen = defaultMaxQueryLen
	}

	logger := slog.Default()
	deps := &adapterDeps{
		llm:             llm,
		memory:          memory,
		tools:           tools,
		store:           store,
		logger:          logger,
		maxContextTurns: maxContextTurns,
	}
	return &SupportService{
		params: p,
		llm:    llm,
		memory: memory,
		adapters: map[domain.Category]adapter{
			domain.CategoryKnowledge:  &knowledgeAdapter{deps: deps},
			domain.CategoryAction:     &actionAdapter{deps: deps},
			domain.CategoryEscalation: &escalationAdapter{deps: deps},
		},
		logger:          logger,
		paramPrefix:     paramPrefix,
		maxContextTurns: maxContextTurns,
		maxQueryLen:     maxQueryLen,
	}, nil
}

func (s *SupportService) HandleRequest(ctx context.Context, in RequestInput) (RequestOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return RequestOutput{}, newError(ErrorInvalidInput, "empty_query", nil)
	}
	if len(query) > s.maxQueryLen {
		return RequestOutput{}, newError(ErrorInvalidInput, "query_too_long", nil)
	}
	if !hasWordCharacter(query) {
		return RequestOutput{}, newError(ErrorInvalidQuestion, "unintelligible_query", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return RequestOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	ticketID := strings.TrimSpace(in.TicketID)
	if ticketID == "" {
		ticketID = newUUID()
	}
	userID := strings.TrimSpace(in.UserID)

	if knownUser(userID) {
		if _, err := s.memory.AppendTurn(ctx, userID, ticketID, domain.RoleUser, query); err != nil {
			s.logger.Warn("inbound turn write failed", "userId", userID, "ticketId", ticketID, "err", err)
		}
	}

	decision := Classify(query)

	flagged, err := s.llm.Moderate(ctx, query)
	if err != nil {
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return RequestOutput{}, newError(ErrorRateLimited, "moderation_rate_limited", err)
		}
		return RequestOutput{}, newError(ErrorUpstream, "moderation_error", err)
	}
	if flagged {
		// Sensitive content goes straight to the human path.
		decision = domain.RoutingDecision{
			Category: domain.CategoryEscalation,
			Reason:   "query flagged by moderation",
		}
	}

	s.logger.Info("routing decision",
		"category", decision.Category, "reason", decision.Reason, "ticketId", ticketID)

	state := &domain.ConversationState{
		Messages:        []domain.ChatMessage{{Role: domain.RoleUser, Content: query}},
		CurrentCategory: decision.Category,
		UserID:          userID,
		TicketID:        ticketID,
		AccountID:       strings.TrimSpace(in.AccountID),
	}

	answer, next, err := s.dispatch(ctx, decision.Category, state)
	if err != nil {
		return RequestOutput{}, err
	}
	final := decision.Category

	if decision.Category == domain.CategoryKnowledge && next == domain.CategoryEscalation {
		s.logger.Info("re-routing to escalation", "ticketId", ticketID)
		answer, _, err = s.dispatch(ctx, domain.CategoryEscalation, state)
		if err != nil {
			return RequestOutput{}, err
		}
		final = domain.CategoryEscalation
	}

	return RequestOutput{
		Answer:   answer,
		Category: final,
		TicketID: ticketID,
	}, nil
}

func (s *SupportService) dispatch(ctx context.Context, category domain.Category, state *domain.ConversationState) (string, domain.Category, error) {
	a, ok := s.adapters[category]
	if !ok {
		return "", "", newError(ErrorInternal, "unknown_category", fmt.Errorf("usecase: no adapter for category %q", category))
	}
	state.CurrentCategory = category
	cfg := runConfig{model: s.model(), systemPrompt: s.prompt(category)}
	return a.Handle(ctx, cfg, state)
}

func (s *SupportService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	prompts, model, err := s.loadSSMParams(ctx)
	if err != nil {
		return err
	}

	s.prompts = prompts
	s.openaiModel = model
	s.cacheLoaded = true
	return nil
}

func (s *SupportService) loadSSMParams(ctx context.Context) (map[domain.Category]string, string, error) {
	prefix := strings.TrimRight(s.paramPrefix, "/")

	prompts := make(map[domain.Category]string, 3)
	for category, name := range map[domain.Category]string{
		domain.CategoryKnowledge:  prefix + "/prompts/knowledge",
		domain.CategoryAction:     prefix + "/prompts/action",
		domain.CategoryEscalation: prefix + "/prompts/escalation",
	} {
		prompt, err := s.params.GetParameter(ctx, name)
		if err != nil {
			return nil, "", fmt.Errorf("usecase: load %s prompt: %w", category, err)
		}
		prompts[category] = prompt
	}

	model, err := s.params.GetParameter(ctx, prefix+"/config/openai_model")
	if err != nil {
		return nil, "", fmt.Errorf("usecase: load openai model: %w", err)
	}
	return prompts, model, nil
}

func (s *SupportService) model() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.openaiModel
}

func (s *SupportService) prompt(category domain.Category) string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.prompts[category]
}

func hasWordCharacter(s string) bool {
	return strings.ContainsFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	})
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
