// Package questionlog implements the question-log entity, its repository,
// and the rule-based question classifier (spec.md §3, §9), grounded on the
// original services/analytics/nlp/question_classifier.py's fixed pattern
// dictionary approach — no ML dependency, "general" is the default bucket.
package questionlog

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// QuestionType is one of the six classified buckets or the general default.
type QuestionType string

const (
	TypeDefinition  QuestionType = "definition"
	TypeExplanation QuestionType = "explanation"
	TypeComparison  QuestionType = "comparison"
	TypeProcedure   QuestionType = "procedure"
	TypeApplication QuestionType = "application"
	TypeEvaluation  QuestionType = "evaluation"
	TypeGeneral     QuestionType = "general"
)

// Entry is one immutable question-log record (spec.md §3).
type Entry struct {
	ID                 uuid.UUID
	DocumentID          *uuid.UUID // nil for global queries ("global" sentinel)
	SessionID           string
	AskerUserID         int64
	QuestionText        string
	AnswerText          string
	Duration            time.Duration
	TokensUsed          int
	Cached              bool
	ClassifiedType      QuestionType
	ClassificationScore float64
	IsGlobal            bool
	SearchedDocumentIDs []uuid.UUID
	CreatedAt           time.Time
}

// Repository persists question-log entries.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	// DeleteByDocument removes every entry for documentID (deletion cascade,
	// spec.md §4.7).
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error
}

type patternRule struct {
	qtype   QuestionType
	pattern *regexp.Regexp
}

// classifierRules is the fixed dictionary; order matters, first match wins.
var classifierRules = []patternRule{
	{TypeDefinition, regexp.MustCompile(`(?i)^\s*(what\s+is|what\s+are|define|definition\s+of)\b`)},
	{TypeComparison, regexp.MustCompile(`(?i)\b(compare|difference\s+between|versus|vs\.?|contrast)\b`)},
	{TypeProcedure, regexp.MustCompile(`(?i)^\s*(how\s+do|how\s+to|how\s+can|steps\s+to|procedure\s+for)\b`)},
	{TypeApplication, regexp.MustCompile(`(?i)\b(apply|use\s+case|when\s+(should|would)\s+(i|you)\s+use|example\s+of)\b`)},
	{TypeEvaluation, regexp.MustCompile(`(?i)\b(evaluate|assess|critique|pros\s+and\s+cons|advantages?\s+(and|or)\s+disadvantages?)\b`)},
	{TypeExplanation, regexp.MustCompile(`(?i)^\s*(why|explain|describe)\b`)},
}

// Classify applies the fixed pattern dictionary, returning TypeGeneral with
// confidence 0 if nothing matches.
func Classify(question string) (QuestionType, float64) {
	for _, rule := range classifierRules {
		if rule.pattern.MatchString(question) {
			return rule.qtype, 1.0
		}
	}
	return TypeGeneral, 0
}
