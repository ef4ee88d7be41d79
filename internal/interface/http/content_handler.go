package http

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eduask/backend/internal/domain/auth"
	"github.com/eduask/backend/internal/domain/document"
	"github.com/eduask/backend/internal/domain/ingestion"
)

// UploadContent implements spec.md §6 `POST /content/upload`.
func (h *Handler) UploadContent(c *gin.Context) {
	claims, ok := getClaims(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing token", nil))
		return
	}

	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusUnprocessableEntity, "file_validation", "file is required", err))
		return
	}

	fileType, ok := detectFileType(fileHeader.Filename)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnprocessableEntity, "file_validation", "unsupported file type", nil))
		return
	}

	data, err := readMultipartFile(fileHeader)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusUnprocessableEntity, "file_validation", "could not read upload", err))
		return
	}

	userID := claims.UserID
	if raw := c.PostForm("user_id"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			userID = parsed
		}
	}

	req := ingestion.UploadRequest{
		UserID:     userID,
		UserName:   claims.Email,
		UserRole:   string(claims.Role),
		Filename:   fileHeader.Filename,
		FileType:   fileType,
		Bytes:      data,
		Title:      c.PostForm("title"),
		Subject:    c.PostForm("subject"),
		Tags:       splitCSV(c.PostForm("tags")),
		GradeLevel: c.PostForm("grade_level"),
	}

	result, err := h.ingestSvc.Upload(c.Request.Context(), req)
	if err != nil {
		status, code := statusForAppError(err)
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}

	resp := gin.H{
		"document_id":  result.DocumentID,
		"status":       result.Status,
		"total_chunks": result.TotalChunks,
		"is_duplicate": result.IsDuplicate,
	}
	if result.IsDuplicate {
		resp["duplicate_of"] = result.DuplicateOf
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteContent implements spec.md §6 `DELETE /content/{id}`. Authorization
// (spec.md §4.7 Deletion): caller must be the document's owner, a teacher,
// or present in its upload history.
func (h *Handler) DeleteContent(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusUnprocessableEntity, "validation", "invalid document id", err))
		return
	}
	claims, ok := getClaims(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing token", nil))
		return
	}

	doc, found, err := h.docs().Get(c.Request.Context(), documentID)
	if err != nil {
		status, code := statusForAppError(err)
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	if !found {
		// Idempotent delete (spec.md §8): deleting an already-gone document
		// still reaches the coordinator, which no-ops successfully.
	} else if claims.Role != auth.RoleTeacher && doc.OwnerUserID != claims.UserID && !doc.UploadedBy(claims.UserID) {
		abortWithError(c, NewHTTPError(http.StatusForbidden, "authorization", "not authorized to delete this document", nil))
		return
	}

	result, err := h.ingestSvc.Delete(c.Request.Context(), documentID)
	if err != nil {
		status, code := statusForAppError(err)
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"vector_namespace_removed": result.VectorNamespaceRemoved,
		"cache_entries_removed":    result.CacheEntriesRemoved,
		"file_bytes_removed":       result.FileBytesRemoved,
		"question_log_removed":     result.QuestionLogRemoved,
		"document_record_removed":  result.DocumentRecordRemoved,
		"errors":                   result.Errors,
	})
}

// ListUserContent implements spec.md §6 `GET /content/user/{id}`.
func (h *Handler) ListUserContent(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusUnprocessableEntity, "validation", "invalid user id", err))
		return
	}

	filter := document.ListFilter{
		Scope:    c.DefaultQuery("filter", "all"),
		Search:   c.Query("search"),
		Subjects: splitCSV(c.Query("subjects")),
		Tags:     splitCSV(c.Query("tags")),
		Page:     atoiDefault(c.Query("page"), 0),
		Limit:    atoiDefault(c.Query("limit"), 20),
	}

	docs, total, err := h.docs().ListByUser(c.Request.Context(), userID, filter)
	if err != nil {
		status, code := statusForAppError(err)
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "total": total, "page": filter.Page, "limit": filter.Limit})
}

func detectFileType(filename string) (document.FileType, bool) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return document.FileTypePDF, true
	case strings.HasSuffix(lower, ".md"):
		return document.FileTypeMD, true
	case strings.HasSuffix(lower, ".txt"):
		return document.FileTypeTXT, true
	default:
		return "", false
	}
}

func readMultipartFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoiDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
