package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Fumiyasu01/aroma-natural/internal/config"
)

type AIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type AIModelRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
}

type AIModelResponse struct {
	Answer string
	Model  string
	Usage  AIUsage
}

type AIClient interface {
	Query(ctx context.Context, req AIModelRequest) (AIModelResponse, error)
}

// ChatCompletionsClient talks to the OpenAI chat completions endpoint with a
// fixed temperature and output cap taken from config.
type ChatCompletionsClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

type MockAIClient struct {
	Model string
}

func (m MockAIClient) Query(_ context.Context, req AIModelRequest) (AIModelResponse, error) {
	message := strings.TrimSpace(req.UserPrompt)
	answer := "こんにちは！今日はどんな気分ですか？"
	if strings.Contains(message, "眠") || strings.Contains(message, "リラックス") {
		answer = "眠れない夜にはラベンダーがおすすめです。寝る30分前にディフューザーで香らせてみてください。"
	} else if strings.Contains(message, "集中") {
		answer = "集中したいときはローズマリーやレモンの香りが役立ちますよ。"
	} else if message == "" {
		answer = "どんなことでお困りですか？お気軽にご相談ください。"
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(m.Model)
	}
	if model == "" {
		model = "gpt-4"
	}
	return AIModelResponse{
		Answer: answer,
		Model:  model,
		Usage: AIUsage{
			PromptTokens:     200,
			CompletionTokens: 60,
			TotalTokens:      260,
		},
	}, nil
}

func NewChatCompletionsClient(cfg config.Config) *ChatCompletionsClient {
	timeoutSeconds := cfg.AITimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 20
	}
	return &ChatCompletionsClient{
		apiKey:      strings.TrimSpace(cfg.OpenAIAPIKey),
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.OpenAIBaseURL), "/"),
		model:       strings.TrimSpace(cfg.OpenAIModel),
		temperature: cfg.AITemperature,
		maxTokens:   cfg.AIMaxTokens,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
	}
}

func (c *ChatCompletionsClient) Query(ctx context.Context, req AIModelRequest) (AIModelResponse, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return AIModelResponse{}, errors.New("OPENAI_API_KEY is not configured")
	}
	if strings.TrimSpace(c.baseURL) == "" {
		return AIModelResponse{}, errors.New("OPENAI_BASE_URL is not configured")
	}
	requestModel := strings.TrimSpace(req.Model)
	if requestModel == "" {
		requestModel = c.model
	}
	if requestModel == "" {
		return AIModelResponse{}, errors.New("OPENAI_MODEL is not configured")
	}

	type chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: strings.TrimSpace(req.SystemPrompt)})
	}
	userPrompt := strings.TrimSpace(req.UserPrompt)
	if userPrompt == "" {
		return AIModelResponse{}, errors.New("AI request user prompt is empty")
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	payload := map[string]any{
		"model":       requestModel,
		"messages":    messages,
		"temperature": c.temperature,
		"max_tokens":  c.maxTokens,
	}
	bodyRaw, err := json.Marshal(payload)
	if err != nil {
		return AIModelResponse{}, err
	}

	request, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(bodyRaw),
	)
	if err != nil {
		return AIModelResponse{}, err
	}
	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return AIModelResponse{}, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return AIModelResponse{}, err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return AIModelResponse{}, fmt.Errorf(
			"openai chat completions error (%d): %s",
			response.StatusCode,
			truncateForLog(string(responseBody), 600),
		)
	}

	parsed := parseJSONStringMap(responseBody)
	answer := extractCompletionAnswer(parsed)
	if strings.TrimSpace(answer) == "" {
		// A reply with no extractable content is still a completed call.
		// Only transport and HTTP failures take the error path.
		log.Printf("openai completion had no extractable answer: %s", truncateForLog(string(responseBody), 600))
		answer = ""
	}

	usageMap, _ := parsed["usage"].(map[string]any)
	modelName := strings.TrimSpace(toString(parsed["model"]))
	if modelName == "" {
		modelName = requestModel
	}

	return AIModelResponse{
		Answer: answer,
		Model:  modelName,
		Usage: AIUsage{
			PromptTokens:     int(extractNumberFromMap(usageMap, "prompt_tokens")),
			CompletionTokens: int(extractNumberFromMap(usageMap, "completion_tokens")),
			TotalTokens:      int(extractNumberFromMap(usageMap, "total_tokens")),
		},
	}, nil
}

func extractCompletionAnswer(data map[string]any) string {
	choices, ok := data["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return ""
	}
	message, ok := first["message"].(map[string]any)
	if !ok {
		return ""
	}
	return strings.TrimSpace(toString(message["content"]))
}

func truncateForLog(value string, limit int) string {
	trimmed := strings.TrimSpace(value)
	if limit <= 0 || len(trimmed) <= limit {
		return trimmed
	}
	return trimmed[:limit] + "...(truncated)"
}
