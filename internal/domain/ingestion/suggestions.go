package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/eduask/backend/internal/domain/document"
)

// SuggestedQuestion is one LLM- or fallback-generated study question
// attached to a document (spec.md §4.7 step 8, grounded on the original
// question_generator.py).
type SuggestedQuestion struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Question   string `json:"question"`
	Category   string `json:"category"`
	Difficulty string `json:"difficulty"`
}

// SuggestedQuestionsRepository persists the generated set for a document.
type SuggestedQuestionsRepository interface {
	Replace(ctx context.Context, documentID uuid.UUID, questions []SuggestedQuestion) error
}

// QuestionSuggester generates up to 5 study questions from a chat-completion
// model, given document context. *chatgpt.Client does not implement it
// directly; llm.SuggesterClient wraps the client to provide GenerateJSON.
type QuestionSuggester interface {
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const generationPrompt = `You are an educational AI assistant specialized in creating study questions. Given information about an educational document, generate 5 specific, actionable questions that a student would likely ask.

Make questions:
- Specific to the content and subject area
- Progressively complex (from basic understanding to advanced application)
- Varied in type to cover different learning objectives
- Clear and concise
- Relevant for exam preparation and deep understanding

Document Information:
Title: %s
Subject: %s
Tags: %s
Content Preview (first 500 characters):
%s

Generate exactly 5 questions and return ONLY a valid JSON array with this exact format:
[
  {"question": "What is...", "category": "definition", "difficulty": "easy"},
  {"question": "Explain how...", "category": "explanation", "difficulty": "medium"},
  {"question": "Compare...", "category": "comparison", "difficulty": "medium"},
  {"question": "Calculate...", "category": "procedure", "difficulty": "hard"},
  {"question": "Apply...", "category": "application", "difficulty": "hard"}
]

Valid categories: definition, explanation, comparison, procedure, application, evaluation
Valid difficulty levels: easy, medium, hard`

const generationSystemPrompt = "You are an expert educational content analyzer who creates perfect study questions."

type rawQuestion struct {
	Question   string `json:"question"`
	Category   string `json:"category"`
	Difficulty string `json:"difficulty"`
}

// generateSuggestedQuestions runs asynchronously after upload accepts a
// document (spec.md §4.7 step 8): best-effort, never blocks the upload
// response, falls back to deterministic subject-keyed templates on any LLM
// or parse failure (grounded on get_fallback_questions).
func (c *Coordinator) generateSuggestedQuestions(ctx context.Context, doc document.Document) {
	if c.suggester == nil || c.suggestions == nil {
		return
	}

	preview := doc.Metadata.Title
	questions, err := c.requestQuestions(ctx, doc)
	if err != nil {
		c.logger.Warn("suggested-question generation failed, using fallback", "document_id", doc.ID, "error", err, "preview_len", len(preview))
		questions = fallbackQuestions(doc.ID, doc.Metadata.Subject)
	}

	if err := c.suggestions.Replace(ctx, doc.ID, questions); err != nil {
		c.logger.Warn("persisting suggested questions failed", "document_id", doc.ID, "error", err)
	}
}

func (c *Coordinator) requestQuestions(ctx context.Context, doc document.Document) ([]SuggestedQuestion, error) {
	tags := "None"
	if len(doc.Metadata.Tags) > 0 {
		tags = strings.Join(doc.Metadata.Tags, ", ")
	}
	prompt := fmt.Sprintf(generationPrompt, doc.Metadata.Title, doc.Metadata.Subject, tags, doc.Metadata.Title)

	raw, err := c.suggester.GenerateJSON(ctx, generationSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var list []rawQuestion
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		var wrapper struct {
			Questions []rawQuestion `json:"questions"`
		}
		if err2 := json.Unmarshal([]byte(raw), &wrapper); err2 != nil {
			return nil, fmt.Errorf("ingestion: parse question-generation response: %w", err)
		}
		list = wrapper.Questions
	}

	if len(list) > 5 {
		list = list[:5]
	}
	out := make([]SuggestedQuestion, 0, len(list))
	for i, q := range list {
		category := q.Category
		if category == "" {
			category = "explanation"
		}
		difficulty := q.Difficulty
		if difficulty == "" {
			difficulty = "medium"
		}
		out = append(out, SuggestedQuestion{
			ID:         fmt.Sprintf("%s-q%d", doc.ID, i+1),
			DocumentID: doc.ID.String(),
			Question:   q.Question,
			Category:   category,
			Difficulty: difficulty,
		})
	}
	return out, nil
}

var subjectFallbackTemplates = map[string][]SuggestedQuestion{
	"Chemistry": {
		{Question: "What are the fundamental concepts in this chemistry topic?", Category: "definition", Difficulty: "easy"},
		{Question: "Explain the chemical reactions and processes described.", Category: "explanation", Difficulty: "medium"},
		{Question: "How do these chemical principles compare to other concepts?", Category: "comparison", Difficulty: "medium"},
		{Question: "What are the step-by-step procedures for calculations?", Category: "procedure", Difficulty: "hard"},
		{Question: "How can these chemistry concepts be applied to real-world problems?", Category: "application", Difficulty: "hard"},
	},
	"Physics": {
		{Question: "Define the key physics terms and laws.", Category: "definition", Difficulty: "easy"},
		{Question: "Explain the physical phenomena described in this document.", Category: "explanation", Difficulty: "medium"},
		{Question: "Compare different physics theories or models.", Category: "comparison", Difficulty: "medium"},
		{Question: "How do I solve physics problems using these equations?", Category: "procedure", Difficulty: "hard"},
		{Question: "Apply these physics principles to practical scenarios.", Category: "application", Difficulty: "hard"},
	},
	"Biology": {
		{Question: "What are the main biological concepts covered?", Category: "definition", Difficulty: "easy"},
		{Question: "Explain the biological processes and mechanisms.", Category: "explanation", Difficulty: "medium"},
		{Question: "How do different biological systems compare?", Category: "comparison", Difficulty: "medium"},
		{Question: "Describe the experimental procedures in biology.", Category: "procedure", Difficulty: "hard"},
		{Question: "How can these biological concepts be applied in medicine?", Category: "application", Difficulty: "hard"},
	},
	"Mathematics": {
		{Question: "What are the key mathematical definitions and theorems?", Category: "definition", Difficulty: "easy"},
		{Question: "Explain the mathematical concepts and their significance.", Category: "explanation", Difficulty: "medium"},
		{Question: "Compare different mathematical approaches or methods.", Category: "comparison", Difficulty: "medium"},
		{Question: "What are the steps to solve these types of problems?", Category: "procedure", Difficulty: "hard"},
		{Question: "Apply these mathematical concepts to word problems.", Category: "application", Difficulty: "hard"},
	},
}

func fallbackQuestions(documentID uuid.UUID, subject string) []SuggestedQuestion {
	templates, ok := subjectFallbackTemplates[subject]
	if !ok {
		templates = []SuggestedQuestion{
			{Question: fmt.Sprintf("What are the main concepts in this %s document?", subjectOrGeneric(subject)), Category: "definition", Difficulty: "easy"},
			{Question: "Explain the key topics covered in detail.", Category: "explanation", Difficulty: "medium"},
			{Question: "How do these concepts relate to each other?", Category: "comparison", Difficulty: "medium"},
			{Question: "What are the practical applications of these concepts?", Category: "application", Difficulty: "hard"},
			{Question: "What should I focus on for exam preparation?", Category: "evaluation", Difficulty: "medium"},
		}
	}
	out := make([]SuggestedQuestion, len(templates))
	for i, t := range templates {
		out[i] = SuggestedQuestion{
			ID:         fmt.Sprintf("%s-q%d", documentID, i+1),
			DocumentID: documentID.String(),
			Question:   t.Question,
			Category:   t.Category,
			Difficulty: t.Difficulty,
		}
	}
	return out
}

func subjectOrGeneric(subject string) string {
	if subject == "" {
		return "general"
	}
	return subject
}
