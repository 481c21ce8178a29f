package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"helpdesk-agent/internal/domain"
	"helpdesk-agent/internal/integrations/openai"
)

type mockParams struct {
	vals  map[string]string
	calls int
	err   error
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("param not found: %s", name)
	}
	return v, nil
}

func testParams() *mockParams {
	return &mockParams{vals: map[string]string{
		"/helpdesk-agent/prompts/knowledge":   "You answer from the knowledge base.",
		"/helpdesk-agent/prompts/action":      "You perform bookings and account changes.",
		"/helpdesk-agent/prompts/escalation":  "You hand the conversation to a human.",
		"/helpdesk-agent/config/openai_model": "gpt-mock",
	}}
}

type chatTurn struct {
	result domain.ChatResult
	err    error
}

type mockLLM struct {
	responses    []chatTurn
	callCount    int
	lastMessages []domain.ChatMessage
	lastTools    []domain.ToolDefinition
	flagged      bool
	moderateErr  error
}

func (m *mockLLM) Chat(_ context.Context, _ string, messages []domain.ChatMessage, tools []domain.ToolDefinition) (domain.ChatResult, error) {
	m.lastMessages = messages
	m.lastTools = tools
	if len(m.responses) == 0 {
		return domain.ChatResult{}, errors.New("no llm response configured")
	}
	idx := m.callCount
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.callCount++
	return m.responses[idx].result, m.responses[idx].err
}

func (m *mockLLM) Moderate(_ context.Context, _ string) (bool, error) {
	return m.flagged, m.moderateErr
}

func textTurn(content string) chatTurn {
	return chatTurn{result: domain.ChatResult{Content: content}}
}

type appendedTurn struct {
	userID   string
	ticketID string
	role     string
	content  string
}

type mockMemory struct {
	turns     []domain.Turn
	prefs     map[string]string
	appended  []appendedTurn
	setKeys   map[string]string
	appendErr error
	getErr    error
	setErr    error
}

func (m *mockMemory) AppendTurn(_ context.Context, userID, ticketID, role, content string) (string, error) {
	if m.appendErr != nil {
		return "", m.appendErr
	}
	m.appended = append(m.appended, appendedTurn{userID: userID, ticketID: ticketID, role: role, content: content})
	return fmt.Sprintf("turn-%d", len(m.appended)), nil
}

func (m *mockMemory) GetTurns(_ context.Context, _, _ string, _ int) ([]domain.Turn, error) {
	return m.turns, m.getErr
}

func (m *mockMemory) SetPreference(_ context.Context, _, key, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.setKeys == nil {
		m.setKeys = map[string]string{}
	}
	m.setKeys[key] = value
	return nil
}

func (m *mockMemory) GetAllPreferences(_ context.Context, _ string) (map[string]string, error) {
	return m.prefs, m.getErr
}

type mockStore struct {
	knowledge      domain.KnowledgeResult
	knowledgeErr   error
	ticketMessages []string
	ticketStatus   string
}

func (m *mockStore) SearchKnowledge(_ context.Context, _, _ string, _ int) (domain.KnowledgeResult, error) {
	return m.knowledge, m.knowledgeErr
}

func (m *mockStore) CreateTicketMessage(_ context.Context, _, _, content string) (domain.MessageResult, error) {
	m.ticketMessages = append(m.ticketMessages, content)
	return domain.MessageResult{Success: true, MessageID: "msg-1"}, nil
}

func (m *mockStore) UpdateTicketStatus(_ context.Context, _, status, _ string) (domain.UpdateResult, error) {
	m.ticketStatus = status
	return domain.UpdateResult{Success: true}, nil
}

type dispatchedCall struct {
	name string
	args string
}

type mockTools struct {
	dispatched  []dispatchedCall
	result      string
	dispatchErr error
}

func (m *mockTools) KnowledgeDefinitions() []domain.ToolDefinition {
	return []domain.ToolDefinition{{Name: "search_knowledge"}}
}

func (m *mockTools) ActionDefinitions() []domain.ToolDefinition {
	return []domain.ToolDefinition{{Name: "get_user_info"}, {Name: "create_reservation"}}
}

func (m *mockTools) Dispatch(_ context.Context, _, name string, args json.RawMessage) (string, error) {
	m.dispatched = append(m.dispatched, dispatchedCall{name: name, args: string(args)})
	if m.dispatchErr != nil {
		return "", m.dispatchErr
	}
	if m.result == "" {
		return "{}", nil
	}
	return m.result, nil
}

func newTestService(t *testing.T, llm *mockLLM, memory *mockMemory, store *mockStore, tools *mockTools) *SupportService {
	t.Helper()
	svc, err := NewSupportService(testParams(), llm, memory, store, tools, "/helpdesk-agent", 10, 300)
	require.NoError(t, err)
	return svc
}

func confidentKnowledge() domain.KnowledgeResult {
	return domain.KnowledgeResult{
		Response:   "Found 1 relevant article(s):\n\nPremium plan details...",
		Confidence: 1.0,
		Found:      true,
		TopScore:   25,
	}
}

func TestNewSupportService_Validation(t *testing.T) {
	llm := &mockLLM{}
	memory := &mockMemory{}
	store := &mockStore{}
	tools := &mockTools{}

	_, err := NewSupportService(nil, llm, memory, store, tools, "/p", 0, 0)
	require.Error(t, err)
	_, err = NewSupportService(testParams(), nil, memory, store, tools, "/p", 0, 0)
	require.Error(t, err)
	_, err = NewSupportService(testParams(), llm, nil, store, tools, "/p", 0, 0)
	require.Error(t, err)
	_, err = NewSupportService(testParams(), llm, memory, nil, tools, "/p", 0, 0)
	require.Error(t, err)
	_, err = NewSupportService(testParams(), llm, memory, store, nil, "/p", 0, 0)
	require.Error(t, err)
	_, err = NewSupportService(testParams(), llm, memory, store, tools, "  ", 0, 0)
	require.Error(t, err)
}

func TestHandleRequest_KnowledgeHappyPath(t *testing.T) {
	llm := &mockLLM{responses: []chatTurn{textTurn("Your premium subscription includes guided tours.")}}
	memory := &mockMemory{}
	store := &mockStore{knowledge: confidentKnowledge()}
	tools := &mockTools{}
	svc := newTestService(t, llm, memory, store, tools)

	out, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:     "What is included in my subscription?",
		UserID:    "u1",
		TicketID:  "ticket-1",
		AccountID: "acct-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.CategoryKnowledge, out.Category)
	require.Equal(t, "Your premium subscription includes guided tours.", out.Answer)
	require.Equal(t, "ticket-1", out.TicketID)

	// exactly two turns: inbound user + outbound assistant
	require.Len(t, memory.appended, 2)
	require.Equal(t, domain.RoleUser, memory.appended[0].role)
	require.Equal(t, "What is included in my subscription?", memory.appended[0].content)
	require.Equal(t, domain.RoleAssistant, memory.appended[1].role)

	// one dispatch, knowledge tool set
	require.Equal(t, 1, llm.callCount)
	require.Equal(t, "search_knowledge", llm.lastTools[0].Name)
}

func TestHandleRequest_KnowledgeEscalatesOnNoResults(t *testing.T) {
	llm := &mockLLM{responses: []chatTurn{
		textTurn("No relevant information found in the knowledge base."),
		textTurn("I've escalated this to our support team."),
	}}
	memory := &mockMemory{}
	store := &mockStore{knowledge: domain.KnowledgeResult{Response: "No relevant information found in the knowledge base."}}
	tools := &mockTools{}
	svc := newTestService(t, llm, memory, store, tools)

	out, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:    "What is the warranty on custom orders?",
		UserID:   "u1",
		TicketID: "ticket-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.CategoryEscalation, out.Category)
	require.Equal(t, "I've escalated this to our support team.", out.Answer)
	require.Equal(t, 2, llm.callCount)

	// escalation documented on the ticket
	require.Len(t, store.ticketMessages, 1)
	require.Contains(t, store.ticketMessages[0], "escalated")
	require.Equal(t, "escalated", store.ticketStatus)
}

func TestHandleRequest_KnowledgeEscalatesOnQueryKeyword(t *testing.T) {
	llm := &mockLLM{responses: []chatTurn{
		textTurn("Refunds are processed within 5 days."),
		textTurn("A human agent will follow up."),
	}}
	memory := &mockMemory{}
	store := &mockStore{knowledge: confidentKnowledge()}
	svc := newTestService(t, llm, memory, store, &mockTools{})

	out, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:    "What is your refund policy?",
		UserID:   "u1",
		TicketID: "ticket-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.CategoryEscalation, out.Category)
	require.Equal(t, 2, llm.callCount)
}

func TestHandleRequest_KnowledgeEscalatesOnHedging(t *testing.T) {
	llm := &mockLLM{responses: []chatTurn{
		textTurn("I'm uncertain about that, sorry."),
		textTurn("Let me connect you with a human."),
	}}
	svc := newTestService(t, llm, &mockMemory{}, &mockStore{knowledge: confidentKnowledge()}, &mockTools{})

	out, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:    "What is included in my subscription?",
		UserID:   "u1",
		TicketID: "ticket-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.CategoryEscalation, out.Category)
}

func TestHandleRequest_AtMostTwoDispatches(t *testing.T) {
	// Every response triggers the escalation rule; the run must stop after
	// the single re-route.
	llm := &mockLLM{responses: []chatTurn{
		textTurn("I don't know anything about that."),
	}}
	svc := newTestService(t, llm, &mockMemory{}, &mockStore{knowledge: confidentKnowledge()}, &mockTools{})

	out, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:    "What is included in my subscription?",
		UserID:   "u1",
		TicketID: "ticket-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.CategoryEscalation, out.Category)
	require.Equal(t, 2, llm.callCount)
}

func TestHandleRequest_ActionIsTerminal(t *testing.T) {
	llm := &mockLLM{responses: []chatTurn{
		textTurn("I don't know, but your reservation RES-1 is confirmed."),
	}}
	store := &mockStore{}
	svc := newTestService(t, llm, &mockMemory{}, store, &mockTools{})

	// hedging language in an action response must NOT escalate
	out, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:    "book a tour for tomorrow",
		UserID:   "u1",
		TicketID: "ticket-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.CategoryAction, out.Category)
	require.Equal(t, 1, llm.callCount)
	require.Empty(t, store.ticketMessages)
}

func TestHandleRequest_EscalationDefaultIsTerminal(t *testing.T) {
	llm := &mockLLM{responses: []chatTurn{
		textTurn("A support agent will reach out shortly."),
	}}
	store := &mockStore{}
	svc := newTestService(t, llm, &mockMemory{}, store, &mockTools{})

	out, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:    "my account is completely broken and nothing works",
		UserID:   "u1",
		TicketID: "ticket-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.CategoryEscalation, out.Category)
	require.Equal(t, 1, llm.callCount)
	require.Equal(t, "escalated", store.ticketStatus)
}

func TestHandleRequest_ModerationFlaggedRoutesToEscalation(t *testing.T) {
	llm := &mockLLM{
		flagged:   true,
		responses: []chatTurn{textTurn("A human agent will take this over.")},
	}
	store := &mockStore{}
	svc := newTestService(t, llm, &mockMemory{}, store, &mockTools{})

	out, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:    "What is included in my subscription?",
		UserID:   "u1",
		TicketID: "ticket-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.CategoryEscalation, out.Category)
	require.Equal(t, "escalated", store.ticketStatus)
}

func TestHandleRequest_ModerationRateLimited(t *testing.T) {
	llm := &mockLLM{moderateErr: fmt.Errorf("moderation: %w", &openai.HTTPStatusError{StatusCode: 429})}
	svc := newTestService(t, llm, &mockMemory{}, &mockStore{}, &mockTools{})

	_, err := svc.HandleRequest(context.Background(), RequestInput{Query: "What is this?", TicketID: "t1"})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorRateLimited, ucErr.Code)
}

func TestHandleRequest_ModerationUpstreamError(t *testing.T) {
	llm := &mockLLM{moderateErr: errors.New("connection refused")}
	svc := newTestService(t, llm, &mockMemory{}, &mockStore{}, &mockTools{})

	_, err := svc.HandleRequest(context.Background(), RequestInput{Query: "What is this?", TicketID: "t1"})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorUpstream, ucErr.Code)
}

func TestHandleRequest_Validation(t *testing.T) {
	svc := newTestService(t, &mockLLM{}, &mockMemory{}, &mockStore{}, &mockTools{})

	_, err := svc.HandleRequest(context.Background(), RequestInput{Query: "   "})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInvalidInput, ucErr.Code)
	require.Equal(t, "empty_query", ucErr.Reason)

	_, err = svc.HandleRequest(context.Background(), RequestInput{Query: strings.Repeat("a", 301)})
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInvalidInput, ucErr.Code)
	require.Equal(t, "query_too_long", ucErr.Reason)

	_, err = svc.HandleRequest(context.Background(), RequestInput{Query: "?!?!!"})
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInvalidQuestion, ucErr.Code)
}

func TestHandleRequest_SSMFailure(t *testing.T) {
	params := &mockParams{err: errors.New("ssm down")}
	svc, err := NewSupportService(params, &mockLLM{}, &mockMemory{}, &mockStore{}, &mockTools{}, "/helpdesk-agent", 10, 300)
	require.NoError(t, err)

	_, err = svc.HandleRequest(context.Background(), RequestInput{Query: "What is this?"})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInternal, ucErr.Code)
	require.Equal(t, "ssm_load_error", ucErr.Reason)
}

func TestHandleRequest_ConfigLoadedOnce(t *testing.T) {
	params := testParams()
	llm := &mockLLM{responses: []chatTurn{textTurn("ok, done")}}
	svc, err := NewSupportService(params, llm, &mockMemory{}, &mockStore{knowledge: confidentKnowledge()}, &mockTools{}, "/helpdesk-agent", 10, 300)
	require.NoError(t, err)

	_, err = svc.HandleRequest(context.Background(), RequestInput{Query: "book a tour", TicketID: "t1"})
	require.NoError(t, err)
	first := params.calls
	_, err = svc.HandleRequest(context.Background(), RequestInput{Query: "book another tour", TicketID: "t1"})
	require.NoError(t, err)
	require.Equal(t, first, params.calls)
}

func TestHandleRequest_GeneratesTicketID(t *testing.T) {
	llm := &mockLLM{responses: []chatTurn{textTurn("done")}}
	svc := newTestService(t, llm, &mockMemory{}, &mockStore{}, &mockTools{})

	out, err := svc.HandleRequest(context.Background(), RequestInput{Query: "book a tour", UserID: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, out.TicketID)
}

func TestHandleRequest_MemoryWriteFailureIsSwallowed(t *testing.T) {
	llm := &mockLLM{responses: []chatTurn{textTurn("done")}}
	memory := &mockMemory{appendErr: errors.New("dynamo unavailable")}
	svc := newTestService(t, llm, memory, &mockStore{}, &mockTools{})

	out, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:    "book a tour",
		UserID:   "u1",
		TicketID: "ticket-1",
	})
	require.NoError(t, err)
	require.Equal(t, "done", out.Answer)
}

func TestHandleRequest_AnonymousUserSkipsMemory(t *testing.T) {
	llm := &mockLLM{responses: []chatTurn{textTurn("done")}}
	memory := &mockMemory{}
	svc := newTestService(t, llm, memory, &mockStore{}, &mockTools{})

	_, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:    "book a tour",
		UserID:   "unknown",
		TicketID: "ticket-1",
	})
	require.NoError(t, err)
	require.Empty(t, memory.appended)
}

func TestHandleRequest_MemoryContextInjected(t *testing.T) {
	llm := &mockLLM{responses: []chatTurn{textTurn("done")}}
	memory := &mockMemory{
		turns: []domain.Turn{{Role: domain.RoleUser, Content: "earlier question about tours"}},
		prefs: map[string]string{"language": "es"},
	}
	svc := newTestService(t, llm, memory, &mockStore{}, &mockTools{})

	_, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:    "book a tour",
		UserID:   "u1",
		TicketID: "ticket-1",
	})
	require.NoError(t, err)

	var contextMsg string
	for _, m := range llm.lastMessages {
		if m.Role == domain.RoleSystem && strings.Contains(m.Content, "previous conversation turns") {
			contextMsg = m.Content
		}
	}
	require.Contains(t, contextMsg, "earlier question about tours")
	require.Contains(t, contextMsg, "language: es")
}

func TestHandleRequest_PreferenceCaptured(t *testing.T) {
	llm := &mockLLM{responses: []chatTurn{textTurn("done")}}
	memory := &mockMemory{}
	svc := newTestService(t, llm, memory, &mockStore{}, &mockTools{})

	_, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:    "Book me a tour, I prefer morning slots",
		UserID:   "u1",
		TicketID: "ticket-1",
	})
	require.NoError(t, err)
	require.Equal(t, "morning slots", memory.setKeys["preference"])
}

func TestHandleRequest_ToolCallLoop(t *testing.T) {
	llm := &mockLLM{responses: []chatTurn{
		{result: domain.ChatResult{ToolCalls: []domain.ToolCall{{ID: "call-1", Name: "get_user_info", Arguments: `{"user_id":"u1"}`}}}},
		textTurn("You are on the premium plan."),
	}}
	tools := &mockTools{result: `{"user_id":"u1","subscription":{"tier":"premium"}}`}
	svc := newTestService(t, llm, &mockMemory{}, &mockStore{}, tools)

	out, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:    "update my plan please",
		UserID:   "u1",
		TicketID: "ticket-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.CategoryAction, out.Category)
	require.Equal(t, "You are on the premium plan.", out.Answer)
	require.Len(t, tools.dispatched, 1)
	require.Equal(t, "get_user_info", tools.dispatched[0].name)
	require.Equal(t, `{"user_id":"u1"}`, tools.dispatched[0].args)

	// the tool result must have been relayed back to the model
	var sawToolResult bool
	for _, m := range llm.lastMessages {
		if m.Role == domain.RoleTool && m.ToolCallID == "call-1" {
			sawToolResult = true
			require.Contains(t, m.Content, "premium")
		}
	}
	require.True(t, sawToolResult)
}

func TestHandleRequest_ToolLoopBounded(t *testing.T) {
	// the model keeps asking for tools forever; the loop must stop
	llm := &mockLLM{responses: []chatTurn{
		{result: domain.ChatResult{ToolCalls: []domain.ToolCall{{ID: "call-1", Name: "get_user_info", Arguments: "{}"}}}},
	}}
	svc := newTestService(t, llm, &mockMemory{}, &mockStore{}, &mockTools{})

	_, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:    "update my plan",
		UserID:   "u1",
		TicketID: "ticket-1",
	})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorUpstream, ucErr.Code)
	require.Equal(t, "tool_rounds_exhausted", ucErr.Reason)
	require.Equal(t, 5, llm.callCount)
}

func TestHandleRequest_LLMRateLimited(t *testing.T) {
	llm := &mockLLM{responses: []chatTurn{
		{err: fmt.Errorf("openai: request failed: %w", &openai.HTTPStatusError{StatusCode: 429})},
	}}
	svc := newTestService(t, llm, &mockMemory{}, &mockStore{}, &mockTools{})

	_, err := svc.HandleRequest(context.Background(), RequestInput{Query: "book a tour", TicketID: "t1"})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorRateLimited, ucErr.Code)
}

func TestHandleRequest_LLMErrorPropagates(t *testing.T) {
	llm := &mockLLM{responses: []chatTurn{
		{err: errors.New("connection reset")},
	}}
	memory := &mockMemory{}
	svc := newTestService(t, llm, memory, &mockStore{}, &mockTools{})

	_, err := svc.HandleRequest(context.Background(), RequestInput{
		Query:    "book a tour",
		UserID:   "u1",
		TicketID: "ticket-1",
	})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorUpstream, ucErr.Code)

	// inbound turn was still persisted before the failure
	require.Len(t, memory.appended, 1)
	require.Equal(t, domain.RoleUser, memory.appended[0].role)
}
