package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"helpdesk-agent/internal/usecase"
)

// SupportUseCase is the single entry point the Lambda front door needs.
type SupportUseCase interface {
	HandleRequest(ctx context.Context, in usecase.RequestInput) (usecase.RequestOutput, error)
}

type Handler struct {
	uc SupportUseCase
}

func NewHandler(uc SupportUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc}, nil
}

type supportRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"userId"`
	TicketID  string `json:"ticketId"`
	AccountID string `json:"accountId"`
}

type supportResponse struct {
	Answer   string `json:"answer"`
	Category string `json:"category"`
	TicketID string `json:"ticketId"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := resolveCorrelationID(event.Headers)

	var req supportRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "malformed_body",
		}), nil
	}

	out, err := h.uc.HandleRequest(ctx, usecase.RequestInput{
		Query:     req.Query,
		UserID:    req.UserID,
		TicketID:  req.TicketID,
		AccountID: req.AccountID,
	})
	if err != nil {
		status, code := mapError(err)
		slog.Error("support request failed", "correlationId", correlationID, "status", status, "err", err)
		return jsonResponse(status, correlationID, errorResponse{Error: code}), nil
	}

	return jsonResponse(http.StatusOK, correlationID, supportResponse{
		Answer:   out.Answer,
		Category: string(out.Category),
		TicketID: out.TicketID,
	}), nil
}

func mapError(err error) (int, string) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, string(usecase.ErrorInternal)
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidQuestion:
		return http.StatusBadRequest, string(ucErr.Code)
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests, string(ucErr.Code)
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, string(ucErr.Code)
	default:
		return http.StatusInternalServerError, string(usecase.ErrorInternal)
	}
}

func resolveCorrelationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "X-Correlation-Id") && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": correlationID,
		},
		Body: string(raw),
	}
}
