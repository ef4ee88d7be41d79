package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eduask/backend/internal/domain/retrieval"
)

type queryRequest struct {
	Question string `json:"question" binding:"required"`
	UserID   int64  `json:"user_id" binding:"required"`
}

type globalQueryRequest struct {
	Question       string      `json:"question" binding:"required"`
	UserID         int64       `json:"user_id" binding:"required"`
	SelectedDocIDs []uuid.UUID `json:"selected_doc_ids"`
}

// QueryDocument implements spec.md §6 `POST /query/{doc_id}`: a streamed
// plain-text body. Mid-stream failures still yield a 200 with a best-effort
// explanatory tail (spec.md §7) — the status line is already committed by
// the time an error can occur, so there is nothing left to report via an
// HTTP status.
func (h *Handler) QueryDocument(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("doc_id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusUnprocessableEntity, "validation", "invalid document id", err))
		return
	}
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusUnprocessableEntity, "validation", errMessage(err), err))
		return
	}
	sessionID := c.GetHeader("X-Session-ID")

	result, err := h.retrieval.QueryDocument(c.Request.Context(), documentID, req.Question, req.UserID, sessionID)
	if err != nil {
		status, code := statusForAppError(err)
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Writer.Flush()
	for token := range result.Stream {
		if _, err := c.Writer.WriteString(token); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

// QueryDocumentComplete implements spec.md §6 `POST /query/{doc_id}/complete`:
// the same flow, drained into a single JSON response.
func (h *Handler) QueryDocumentComplete(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("doc_id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusUnprocessableEntity, "validation", "invalid document id", err))
		return
	}
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusUnprocessableEntity, "validation", errMessage(err), err))
		return
	}
	sessionID := c.GetHeader("X-Session-ID")

	result, err := h.retrieval.QueryDocument(c.Request.Context(), documentID, req.Question, req.UserID, sessionID)
	if err != nil {
		status, code := statusForAppError(err)
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}

	answer := drainStream(result)
	c.JSON(http.StatusOK, gin.H{
		"answer":  answer,
		"sources": result.Sources,
		"cached":  result.Cached,
	})
}

// QueryGlobalComplete implements spec.md §6 `POST /query/global/complete`.
func (h *Handler) QueryGlobalComplete(c *gin.Context) {
	claims, ok := getClaims(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing token", nil))
		return
	}
	var req globalQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusUnprocessableEntity, "validation", errMessage(err), err))
		return
	}
	sessionID := c.GetHeader("X-Session-ID")

	result, err := h.retrieval.QueryGlobal(c.Request.Context(), req.UserID, string(claims.Role), req.Question, req.SelectedDocIDs, sessionID)
	if err != nil {
		status, code := statusForAppError(err)
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}

	answer := result.Answer
	if answer == "" && result.Stream != nil {
		answer = drainStream(result)
	}
	c.JSON(http.StatusOK, gin.H{
		"answer":  answer,
		"sources": result.Sources,
		"cached":  result.Cached,
	})
}

// PopularQuestions implements spec.md §6 `GET /query/{doc_id}/popular`.
func (h *Handler) PopularQuestions(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("doc_id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusUnprocessableEntity, "validation", "invalid document id", err))
		return
	}
	if h.popularity == nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "internal_error", "popularity store not configured", nil))
		return
	}
	limit := atoiDefault(c.Query("limit"), 10)
	offset := atoiDefault(c.Query("offset"), 0)

	questions, err := h.popularity.TopQuestions(c.Request.Context(), documentID.String(), limit, offset)
	if err != nil {
		status, code := statusForAppError(err)
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions, "limit": limit, "offset": offset})
}

func drainStream(result retrieval.QueryResult) string {
	if result.Answer != "" {
		return result.Answer
	}
	var builder []byte
	for token := range result.Stream {
		builder = append(builder, token...)
	}
	return string(builder)
}
