// Package composer implements C11: grounded-prompt construction, source
// attribution, and LLM invocation for both per-document and global answers
// (spec.md §4.11). The streaming channel pattern is grounded on
// internal/domain/summarizer.Service.StreamSummary; the chat transport is the
// teacher's internal/infra/llm/chatgpt client, reused as-is rather than
// wrapped a second time.
package composer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/eduask/backend/internal/infra/llm/chatgpt"
	apperrors "github.com/eduask/backend/pkg/errors"
)

// RetrievedChunk is one scored chunk surfaced by retrieval, carrying the
// document metadata needed to render a `[Source N]` block.
type RetrievedChunk struct {
	DocumentID    string
	ChunkIndex    int
	Text          string
	Score         float64
	DocumentTitle string
	UploaderName  string
	UploaderID    int64
	UploadDate    time.Time
}

// Source is one element of a composed answer's attribution list. SourceID
// matches the `[Source N]` token used in the prompt and, ideally, in the
// model's answer text.
type Source struct {
	SourceID      int       `json:"source_id"`
	DocumentID    string    `json:"document_id"`
	DocumentTitle string    `json:"document_title"`
	UploaderName  string    `json:"uploader_name"`
	UploaderID    int64     `json:"uploader_id"`
	UploadDate    time.Time `json:"upload_date"`
	ChunkIndex    int       `json:"chunk_index"`
	Score         float64   `json:"score"`
}

const perDocumentSystemPrompt = `You are a helpful tutor answering questions using only the supplied source material.
Cite every claim with a [Source N] marker that matches the numbered sources given to you.
If the supplied sources do not contain enough information to answer, say so explicitly rather than guessing.`

const globalSystemPrompt = `You are a helpful tutor answering questions by synthesizing across multiple supplied documents.
Cite every claim with a [Source N] marker that matches the numbered sources given to you.
When sources disagree, surface the contradiction explicitly rather than silently picking one.
If the supplied sources do not contain enough information to answer, say so explicitly rather than guessing.`

// Prompt is the fully built request ready for the LLM, plus the source list
// that must accompany the rendered answer.
type Prompt struct {
	System  string
	User    string
	Sources []Source
}

// Build renders the grounded prompt per spec.md §4.11. chunks must already be
// in the order they should be numbered (1-based) as sources.
func Build(question string, chunks []RetrievedChunk, global bool) Prompt {
	system := perDocumentSystemPrompt
	if global {
		system = globalSystemPrompt
	}

	var blocks []string
	sources := make([]Source, 0, len(chunks))
	for i, c := range chunks {
		sourceID := i + 1
		blocks = append(blocks, formatSourceBlock(sourceID, c))
		sources = append(sources, Source{
			SourceID:      sourceID,
			DocumentID:    c.DocumentID,
			DocumentTitle: c.DocumentTitle,
			UploaderName:  c.UploaderName,
			UploaderID:    c.UploaderID,
			UploadDate:    c.UploadDate.Truncate(24 * time.Hour),
			ChunkIndex:    c.ChunkIndex,
			Score:         c.Score,
		})
	}

	user := strings.Join(blocks, "\n---\n")
	if user != "" {
		user += "\n\n"
	}
	user += "Question: " + question

	return Prompt{System: system, User: user, Sources: sources}
}

func formatSourceBlock(sourceID int, c RetrievedChunk) string {
	header := "[Source " + strconv.Itoa(sourceID) + ": " + c.DocumentTitle +
		" (uploaded by " + c.UploaderName + " on " + c.UploadDate.Format("2006-01-02") + ")]"
	return header + "\n" + c.Text
}

// leakMarkers are adopted near-verbatim from the original Python
// security/prompt_injection_filter.py check_response_safety unsafe_patterns
// list. An answer containing any of these is rejected from caching but is
// still returned to the caller (spec.md §4.11 Safety check).
var leakMarkers = []string{
	"You are a helpful tutor answering questions",
	"SYSTEM:",
	"<|im_start|>",
	"<|im_end|>",
}

// ContainsLeakMarker reports whether answer leaks system-prompt or
// chat-template content.
func ContainsLeakMarker(answer string) bool {
	for _, marker := range leakMarkers {
		if strings.Contains(answer, marker) {
			return true
		}
	}
	return false
}

// StreamToken is one emitted fragment of a streaming answer.
type StreamToken struct {
	Delta     string
	Completed bool
	Err       error
}

// ChatClient is the subset of the chatgpt transport the composer needs.
// *chatgpt.Client satisfies it directly.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req chatgpt.ChatCompletionRequest) (chatgpt.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req chatgpt.ChatCompletionRequest) (chatgpt.Stream, error)
}

// Service generates answers from a built Prompt.
type Service interface {
	GenerateStream(ctx context.Context, p Prompt) (<-chan StreamToken, error)
	GenerateComplete(ctx context.Context, p Prompt) (string, error)
}

type service struct {
	client      ChatClient
	model       string
	temperature float32
	logger      *slog.Logger
}

// NewService is a wire provider for the composer domain.
func NewService(client ChatClient, model string, temperature float32, logger *slog.Logger) Service {
	return &service{client: client, model: model, temperature: temperature, logger: logger.With("component", "composer.service")}
}

func (s *service) messages(p Prompt) []chatgpt.Message {
	return []chatgpt.Message{
		{Role: "system", Content: p.System},
		{Role: "user", Content: p.User},
	}
}

func (s *service) GenerateComplete(ctx context.Context, p Prompt) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, chatgpt.ChatCompletionRequest{
		Model:       s.model,
		Messages:    s.messages(p),
		Temperature: s.temperature,
	})
	if err != nil {
		return "", apperrors.Wrap("external-service", "llm completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.Wrap("external-service", "llm returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream streams the answer token-by-token. The channel is always
// closed; a final StreamToken carries Completed=true or a non-nil Err.
func (s *service) GenerateStream(ctx context.Context, p Prompt) (<-chan StreamToken, error) {
	stream, err := s.client.CreateChatCompletionStream(ctx, chatgpt.ChatCompletionRequest{
		Model:       s.model,
		Messages:    s.messages(p),
		Temperature: s.temperature,
	})
	if err != nil {
		return nil, apperrors.Wrap("external-service", "llm stream request failed", err)
	}

	out := make(chan StreamToken)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			chunk, recvErr := stream.Recv()
			if recvErr != nil {
				if !errors.Is(recvErr, io.EOF) {
					s.logger.Error("llm stream recv failed", "error", recvErr)
					select {
					case out <- StreamToken{Err: recvErr}:
					case <-ctx.Done():
					}
					return
				}
				select {
				case out <- StreamToken{Completed: true}:
				case <-ctx.Done():
				}
				return
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case out <- StreamToken{Delta: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
