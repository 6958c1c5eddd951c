// Package httpapi exposes the one inbound HTTP surface: the client
// error ingestion endpoint. Authentication, payload validation,
// ingestion, and the soft-fail-on-transient-storage contract all live
// here; rule and channel administration are out of scope.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"errwatch/internal/apperrors"
	"errwatch/internal/ingest"
	"errwatch/internal/store"
)

// Handler wires the ingestion endpoint to its dependencies.
type Handler struct {
	projects store.ProjectStore
	ingestor *ingest.Ingestor
	log      *zap.SugaredLogger
}

// New returns a Handler.
func New(projects store.ProjectStore, ingestor *ingest.Ingestor, log *zap.SugaredLogger) *Handler {
	return &Handler{projects: projects, ingestor: ingestor, log: log}
}

// Register mounts the handler's routes on e.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/api/errors/:projectId", h.ingestError)
}

func (h *Handler) ingestError(c echo.Context) error {
	ctx := c.Request().Context()
	projectID := c.Param("projectId")

	project, err := authenticateProject(ctx, h.projects, projectID, c.Request().Header.Get("Authorization"))
	if err != nil {
		h.log.Errorw("project lookup failed during authentication", "projectId", projectID, "error", err)
		return c.JSON(http.StatusAccepted, envelope{Data: acceptedResponseData{Accepted: true}})
	}
	if project == nil {
		return c.JSON(http.StatusUnauthorized, envelope{Data: validationErrorData{Message: "invalid or missing project credential"}})
	}

	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return h.validationFailure(c, "payload", "malformed JSON body")
	}
	if req.Message == "" {
		return h.validationFailure(c, "message", "must not be empty")
	}
	if req.Environment == "" {
		return h.validationFailure(c, "environment", "must not be empty")
	}

	result, err := h.ingestor.Ingest(ctx, req.toRawEvent(), *project)
	if err != nil {
		var transient *apperrors.TransientStoreError
		if errors.As(err, &transient) {
			h.log.Warnw("transient store failure during ingestion, soft-accepting", "projectId", projectID, "error", err)
			return c.JSON(http.StatusAccepted, envelope{Data: acceptedResponseData{Accepted: true}})
		}
		h.log.Errorw("ingestion failed", "projectId", projectID, "error", err)
		return c.JSON(http.StatusAccepted, envelope{Data: acceptedResponseData{Accepted: true}})
	}

	return c.JSON(http.StatusCreated, envelope{Data: ingestResponseData{
		ID:          result.Occurrence.OccurrenceID,
		ErrorID:     result.Issue.IssueID,
		Fingerprint: result.Fingerprint,
		Count:       result.Issue.Count,
		Status:      string(result.Issue.Status),
		IsNew:       result.IsNew,
		LastSeen:    result.Issue.LastSeen,
	}})
}

func (h *Handler) validationFailure(c echo.Context, field, constraint string) error {
	verr := apperrors.NewValidationError(field, nil, constraint)
	return c.JSON(http.StatusUnprocessableEntity, envelope{Data: validationErrorData{
		Field:      field,
		Constraint: constraint,
		Message:    verr.Message,
	}})
}
