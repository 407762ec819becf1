package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorPayload struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorClass struct {
	kind   error
	status int
	label  string
}

var errorClasses = []errorClass{
	{kind: apperrors.ErrNotFound, status: http.StatusNotFound, label: "not_found"},
	{kind: apperrors.ErrConflict, status: http.StatusConflict, label: "conflict"},
	{kind: apperrors.ErrForbidden, status: http.StatusForbidden, label: "forbidden"},
	{kind: apperrors.ErrValidation, status: http.StatusBadRequest, label: "invalid_request"},
	{kind: apperrors.ErrUnavailable, status: http.StatusServiceUnavailable, label: "unavailable"},
	{kind: apperrors.ErrUpstream, status: http.StatusBadGateway, label: "upstream_error"},
}

// statusForError maps a service error onto its HTTP status and error label.
func statusForError(err error) (int, string) {
	for _, class := range errorClasses {
		if errors.Is(err, class.kind) {
			return class.status, class.label
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, label := statusForError(err)
	payload := errorPayload{Error: label, Code: apperrors.CodeOf(err), Message: "internal error"}

	var serviceErr *apperrors.ServiceError
	if errors.As(err, &serviceErr) && status != http.StatusInternalServerError {
		payload.Message = serviceErr.Message()
	}
	if payload.Code == "" {
		payload.Code = "server.unexpected"
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("route", c.FullPath()), zap.String("code", payload.Code), zap.Error(err))
	}
	c.JSON(status, payload)
}

func (h *httpHandler) respondInvalid(c *gin.Context, err error) {
	message := "request payload is invalid"
	if err != nil {
		message = err.Error()
	}
	c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Code: "request.invalid", Message: message})
}
