// Package llm adapts internal/infra/llm/chatgpt.Client onto the narrow
// capability interfaces C8/C10 (embedworker.Embedder, retrieval.Embedder)
// and C7 (ingestion.QuestionSuggester) depend on, the way the teacher's
// summarizer/faq domains each declared their own ChatClient subset interface
// against the same concrete client rather than the client exposing them
// directly.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eduask/backend/internal/infra/llm/chatgpt"
	apperrors "github.com/eduask/backend/pkg/errors"
)

// EmbeddingClient wraps chatgpt.Client's embeddings endpoint behind a
// single-string Embed call, satisfying embedworker.Embedder and
// retrieval.Embedder.
type EmbeddingClient struct {
	client *chatgpt.Client
	model  string
}

// NewEmbeddingClient constructs an EmbeddingClient for model (e.g.
// "text-embedding-3-small").
func NewEmbeddingClient(client *chatgpt.Client, model string) *EmbeddingClient {
	return &EmbeddingClient{client: client, model: model}
}

// Embed implements embedworker.Embedder / retrieval.Embedder.
func (e *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbedding(ctx, chatgpt.EmbeddingRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, apperrors.Wrap("external-service", "embedding request failed", err)
	}
	if len(resp.Data) == 0 {
		return nil, apperrors.Wrap("external-service", "embedding response had no data", nil)
	}
	return resp.Data[0].Embedding, nil
}

// SuggesterClient wraps chatgpt.Client's chat-completion endpoint behind
// ingestion.QuestionSuggester's GenerateJSON shape.
type SuggesterClient struct {
	client      *chatgpt.Client
	model       string
	temperature float32
}

// NewSuggesterClient constructs a SuggesterClient.
func NewSuggesterClient(client *chatgpt.Client, model string, temperature float32) *SuggesterClient {
	return &SuggesterClient{client: client, model: model, temperature: temperature}
}

// GenerateJSON implements ingestion.QuestionSuggester.
func (s *SuggesterClient) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, chatgpt.ChatCompletionRequest{
		Model:       s.model,
		Temperature: s.temperature,
		Messages: []chatgpt.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", apperrors.Wrap("external-service", "question generation request failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.Wrap("external-service", "question generation returned no choices", nil)
	}
	content := resp.Choices[0].Message.Content
	if !json.Valid([]byte(content)) {
		return "", apperrors.Wrap("external-service", fmt.Sprintf("question generation returned non-JSON content: %.80q", content), nil)
	}
	return content, nil
}
