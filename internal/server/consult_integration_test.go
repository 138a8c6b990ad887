package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

type failingAIClient struct{}

func (failingAIClient) Query(context.Context, AIModelRequest) (AIModelResponse, error) {
	return AIModelResponse{}, errors.New("upstream unavailable")
}

// countingAIClient wraps the mock to observe whether the handler reached the
// external dependency at all.
type countingAIClient struct {
	calls *int
	inner MockAIClient
}

func (c countingAIClient) Query(ctx context.Context, req AIModelRequest) (AIModelResponse, error) {
	*c.calls++
	return c.inner.Query(ctx, req)
}

func TestConsultEmptyMessageRejectedBeforeAICall(t *testing.T) {
	requireIntegration(t)

	calls := 0
	router := NewWithAIClient(baseTestConfig, testPool, testCatalog, countingAIClient{calls: &calls}).Router()

	rec := performRequest(t, router, http.MethodPost, "/api/v1/ai/consult", "", map[string]any{
		"message": "   ",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d: %s", rec.Code, rec.Body.String())
	}
	if calls != 0 {
		t.Fatalf("AI client must not be called for an empty message, got %d calls", calls)
	}
}

func TestConsultReturnsAnswerAndSuggestions(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)

	rec := performRequest(t, router, http.MethodPost, "/api/v1/ai/consult", "", map[string]any{
		"message": "夜なかなか眠れません",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("consult failed: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	answer, _ := body["response"].(string)
	if answer == "" {
		t.Fatal("expected a non-empty answer")
	}
	suggested := decodeStringList(t, body["suggested_aromas"])
	if len(suggested) != 1 || suggested[0] != "lavender" {
		t.Fatalf("expected lavender suggestion, got %v", suggested)
	}
}

type blankAnswerAIClient struct{}

func (blankAnswerAIClient) Query(context.Context, AIModelRequest) (AIModelResponse, error) {
	return AIModelResponse{Model: "gpt-4"}, nil
}

func TestConsultEmptyAnswerIsASuccess(t *testing.T) {
	requireIntegration(t)
	router := NewWithAIClient(baseTestConfig, testPool, testCatalog, blankAnswerAIClient{}).Router()

	rec := performRequest(t, router, http.MethodPost, "/api/v1/ai/consult", "", map[string]any{
		"message": "おすすめを教えて",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for an empty answer, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	if answer, _ := body["response"].(string); answer != "" {
		t.Fatalf("expected empty answer, got %q", answer)
	}
	if suggested := decodeStringList(t, body["suggested_aromas"]); len(suggested) != 0 {
		t.Fatalf("expected no suggestions for an empty answer, got %v", suggested)
	}
}

func TestConsultAIFailureReturns503(t *testing.T) {
	requireIntegration(t)
	router := NewWithAIClient(baseTestConfig, testPool, testCatalog, failingAIClient{}).Router()

	rec := performRequest(t, router, http.MethodPost, "/api/v1/ai/consult", "", map[string]any{
		"message": "おすすめを教えて",
	}, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on AI failure, got %d: %s", rec.Code, rec.Body.String())
	}
	if detail := responseDetail(t, rec); detail == "" {
		t.Fatal("expected a detail message on the AI failure")
	}
}

func TestConsultPersistsHistoryWhenAuthenticated(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)
	userID := seedUser(t, "")
	token := signToken(t, userID, nil)

	rec := performRequest(t, router, http.MethodPost, "/api/v1/ai/consult", token, map[string]any{
		"message":      "眠れないのでリラックスしたい",
		"save_history": true,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("consult failed: %d %s", rec.Code, rec.Body.String())
	}

	var count int
	if err := testPool.QueryRow(
		context.Background(),
		`SELECT COUNT(*)::int FROM ai_consultations WHERE user_id = $1`,
		userID,
	).Scan(&count); err != nil {
		t.Fatalf("count consultations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 persisted consultation, got %d", count)
	}
}

func TestConsultAnonymousNeverPersists(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)

	rec := performRequest(t, router, http.MethodPost, "/api/v1/ai/consult", "", map[string]any{
		"message":      "集中できる香りは？",
		"save_history": true,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("consult failed: %d %s", rec.Code, rec.Body.String())
	}

	var count int
	if err := testPool.QueryRow(
		context.Background(),
		`SELECT COUNT(*)::int FROM ai_consultations`,
	).Scan(&count); err != nil {
		t.Fatalf("count consultations: %v", err)
	}
	if count != 0 {
		t.Fatalf("anonymous consult must not persist, got %d rows", count)
	}
}

func TestListConsultationsNewestFirst(t *testing.T) {
	resetDatabase(t)
	router := newTestRouter(t)
	userID := seedUser(t, "")
	otherID := seedUser(t, "")
	token := signToken(t, userID, nil)

	seedConsultation(t, userID, "first question", "first answer", []string{"lavender"})
	seedConsultation(t, userID, "second question", "second answer", nil)
	seedConsultation(t, otherID, "foreign question", "foreign answer", nil)

	rec := performRequest(t, router, http.MethodGet, "/api/v1/ai/consultations", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list consultations failed: %d %s", rec.Code, rec.Body.String())
	}
	items, ok := decodeJSONMap(t, rec)["consultations"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected 2 consultations, got %v", items)
	}
	for _, raw := range items {
		item := raw.(map[string]any)
		if item["message"] == "foreign question" {
			t.Fatal("foreign consultation leaked into the listing")
		}
	}
}
