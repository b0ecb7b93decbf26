package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/emr/internal/platform/auth"
)

// AuditEntry records who touched which entity, when and how.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Entity     string
	EntityID   string
	PatientID  string
	Action     string // read, create, update, delete, search
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries in addition to the log line.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit emits one "data_access" event per /api/v1 call.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			ctx := req.Context()
			entity, entityID := splitEntityPath(path)
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				StatusCode: status,
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Entity:     entity,
				EntityID:   entityID,
				Action:     action(req.Method, entityID, c.QueryParam("q") != ""),
				PatientID:  patientID(c, entity, entityID),
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "data_access").
				Str("request_id", entry.RequestID).
				Str("user", entry.UserID).
				Strs("roles", entry.UserRoles).
				Str("entity", entry.Entity).
				Str("entity_id", entry.EntityID).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Int("status", entry.StatusCode).
				Msg("data_access")

			return err
		}
	}
}

func action(method, entityID string, query bool) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	if entityID == "" || query {
		return "search"
	}
	return "read"
}

// splitEntityPath turns /api/v1/patient/<uuid>/... into ("patient", "<uuid>").
func splitEntityPath(path string) (string, string) {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	entity := segments[0]
	if entity == "" {
		entity = "unknown"
	}
	if len(segments) > 1 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			return entity, segments[1]
		}
	}
	return entity, ""
}

func patientID(c echo.Context, entity, entityID string) string {
	if entity == "patient" && entityID != "" {
		return entityID
	}
	if p := c.QueryParam("patient"); p != "" {
		if _, err := uuid.Parse(p); err == nil {
			return p
		}
	}
	return ""
}
