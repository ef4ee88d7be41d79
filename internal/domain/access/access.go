// Package access implements C9: the teacher/student visibility resolver,
// grounded on the original services/rag-query/access_control.py
// (get_user_accessible_docs / check_document_access / filter_accessible_docs).
package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/eduask/backend/internal/domain/document"
)

// Resolver computes the ordered set of document-ids a user may retrieve
// from (spec.md §4.9).
type Resolver interface {
	// AccessibleDocuments returns, in deterministic insertion order, every
	// document-id userID may query against.
	AccessibleDocuments(ctx context.Context, userID int64, role string) ([]uuid.UUID, error)

	// FilterSelection narrows a caller-supplied id list down to the
	// accessible subset, reporting ids that were dropped because they are
	// not yet completed (diagnostics only — inaccessible ids are silently
	// dropped with no diagnostic, per spec.md §4.9).
	FilterSelection(ctx context.Context, userID int64, role string, selected []uuid.UUID) (accessible []uuid.UUID, notYetCompleted []uuid.UUID, err error)
}

type resolver struct {
	docs document.Repository
}

// NewResolver is a wire provider for the access domain.
func NewResolver(docs document.Repository) Resolver {
	return &resolver{docs: docs}
}

func (r *resolver) AccessibleDocuments(ctx context.Context, userID int64, role string) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})
	var ordered []uuid.UUID
	add := func(d document.Document) {
		if _, ok := seen[d.ID]; ok {
			return
		}
		seen[d.ID] = struct{}{}
		ordered = append(ordered, d.ID)
	}

	// Every completed document uploaded by any teacher is visible to
	// everyone (lean-permissive rule, spec.md §4.9).
	completedByTeachers, err := r.docs.ListCompletedByUploaderRole(ctx, "teacher")
	if err != nil {
		return nil, err
	}
	for _, d := range completedByTeachers {
		add(d)
	}

	if role == "teacher" {
		owned, err := r.docs.ListOwnedAnyStatus(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, d := range owned {
			add(d)
		}
		return ordered, nil
	}

	inHistory, err := r.docs.ListWithUserInHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, d := range inHistory {
		add(d)
	}
	return ordered, nil
}

func (r *resolver) FilterSelection(ctx context.Context, userID int64, role string, selected []uuid.UUID) ([]uuid.UUID, []uuid.UUID, error) {
	accessibleSet := make(map[uuid.UUID]struct{})
	accessibleIDs, err := r.AccessibleDocuments(ctx, userID, role)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range accessibleIDs {
		accessibleSet[id] = struct{}{}
	}

	var accessible, notYetCompleted []uuid.UUID
	for _, id := range selected {
		if _, ok := accessibleSet[id]; !ok {
			continue // selected-but-not-accessible: silently dropped
		}
		doc, found, err := r.docs.Get(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if !found {
			continue
		}
		if doc.Status != document.StatusCompleted {
			notYetCompleted = append(notYetCompleted, id)
			continue
		}
		accessible = append(accessible, id)
	}
	return accessible, notYetCompleted, nil
}
