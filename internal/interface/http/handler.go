package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eduask/backend/internal/domain/access"
	"github.com/eduask/backend/internal/domain/auth"
	"github.com/eduask/backend/internal/domain/document"
	"github.com/eduask/backend/internal/domain/ingestion"
	"github.com/eduask/backend/internal/domain/retrieval"
	"github.com/eduask/backend/internal/infra/ratelimit"
	apperrors "github.com/eduask/backend/pkg/errors"
)

// Handler wires the HTTP transport to domain services. Replaces the
// teacher's summarizer/uvadvisor/faq-backed Handler with the RAG pipeline's
// own services (spec.md §6).
type Handler struct {
	authSvc    auth.Service
	docsRepo   document.Repository
	ingestSvc  *ingestion.Coordinator
	retrieval  *retrieval.Service
	popularity retrieval.PopularityStore
	access     access.Resolver
	limiter    ratelimit.Limiter
	maxUpload  int64
	logger     *slog.Logger
}

// NewHandler constructs the root HTTP handler. limiter may be nil, in which
// case rateLimitMiddleware falls back to the teacher's in-memory per-IP
// token bucket (see middleware.go).
func NewHandler(
	authSvc auth.Service,
	docsRepo document.Repository,
	ingestSvc *ingestion.Coordinator,
	retrievalSvc *retrieval.Service,
	popularity retrieval.PopularityStore,
	resolver access.Resolver,
	limiter ratelimit.Limiter,
	maxUploadBytes int64,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		authSvc:    authSvc,
		docsRepo:   docsRepo,
		ingestSvc:  ingestSvc,
		retrieval:  retrievalSvc,
		popularity: popularity,
		access:     resolver,
		limiter:    limiter,
		maxUpload:  maxUploadBytes,
		logger:     logger.With("component", "http.handler"),
	}
}

func (h *Handler) docs() document.Repository {
	return h.docsRepo
}

// Register handles account creation.
func (h *Handler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	user, err := h.authSvc.Register(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "auth_failed"
		switch {
		case apperrors.IsCode(err, "invalid_input"), apperrors.IsCode(err, "validation"):
			status = http.StatusUnprocessableEntity
			code = "invalid_request"
		case apperrors.IsCode(err, "email_exists"), apperrors.IsCode(err, "conflict"):
			status = http.StatusConflict
			code = "email_exists"
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user":    user,
	})
}

// Login authenticates and issues a JWT pair.
func (h *Handler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	resp, err := h.authSvc.Login(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "auth_failed"
		switch {
		case apperrors.IsCode(err, "invalid_input"), apperrors.IsCode(err, "validation"):
			status = http.StatusUnprocessableEntity
			code = "invalid_request"
		case apperrors.IsCode(err, "invalid_credentials"), apperrors.IsCode(err, "authentication"):
			status = http.StatusUnauthorized
			code = "invalid_credentials"
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Refresh exchanges a refresh token for a new access token.
func (h *Handler) Refresh(c *gin.Context) {
	var req auth.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	resp, err := h.authSvc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		status := http.StatusInternalServerError
		code := "auth_failed"
		if apperrors.IsCode(err, "invalid-token") || apperrors.IsCode(err, "invalid_token") {
			status = http.StatusUnauthorized
			code = "invalid_token"
		}
		if apperrors.IsCode(err, "user_not_found") || apperrors.IsCode(err, "not-found") {
			status = http.StatusNotFound
			code = "user_not_found"
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Profile returns the authenticated user's info.
func (h *Handler) Profile(c *gin.Context) {
	claims, ok := getClaims(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing token", nil))
		return
	}
	user, err := h.authSvc.Profile(c.Request.Context(), claims.UserID)
	if err != nil {
		status := http.StatusInternalServerError
		code := "auth_failed"
		if apperrors.IsCode(err, "user_not_found") || apperrors.IsCode(err, "not-found") {
			status = http.StatusNotFound
			code = "user_not_found"
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Welcome to the private dashboard",
		"user":    user,
	})
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// statusForAppError implements spec.md §7's error-kind to HTTP-status table.
func statusForAppError(err error) (int, string) {
	switch {
	case apperrors.IsCode(err, "validation"):
		return http.StatusUnprocessableEntity, "validation"
	case apperrors.IsCode(err, "file-validation"):
		return http.StatusUnprocessableEntity, "file_validation"
	case apperrors.IsCode(err, "authentication"):
		return http.StatusUnauthorized, "authentication"
	case apperrors.IsCode(err, "invalid-token"), apperrors.IsCode(err, "invalid_token"):
		return http.StatusUnauthorized, "invalid_token"
	case apperrors.IsCode(err, "authorization"):
		return http.StatusForbidden, "authorization"
	case apperrors.IsCode(err, "not-found"):
		return http.StatusNotFound, "not_found"
	case apperrors.IsCode(err, "rate-limit"):
		return http.StatusTooManyRequests, "rate_limit"
	case apperrors.IsCode(err, "prompt-injection"):
		return http.StatusBadRequest, "prompt_injection"
	case apperrors.IsCode(err, "external-service"):
		return http.StatusServiceUnavailable, "external_service"
	case apperrors.IsCode(err, "queue"):
		return http.StatusInternalServerError, "queue_error"
	case apperrors.IsCode(err, "parsing"):
		return http.StatusInternalServerError, "parsing_error"
	case apperrors.IsCode(err, "chunking"):
		return http.StatusInternalServerError, "chunking_error"
	case apperrors.IsCode(err, "conflict"):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
