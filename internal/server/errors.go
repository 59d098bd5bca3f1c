package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/gin-gonic/gin"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:      http.StatusBadRequest,
	apperr.KindNotFound:        http.StatusNotFound,
	apperr.KindPermission:      http.StatusForbidden,
	apperr.KindConflict:        http.StatusConflict,
	apperr.KindExpired:         http.StatusGone,
	apperr.KindDuplicate:       http.StatusConflict,
	apperr.KindUnauthenticated: http.StatusUnauthorized,
	apperr.KindInternal:        http.StatusInternalServerError,
}

func statusForError(err error) int {
	if status, ok := kindStatus[apperr.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": kind, "code": code}. Internal errors never expose a code.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	body := gin.H{"error": string(kind)}
	if code := apperr.CodeOf(err); code != "" && kind != apperr.KindInternal {
		body["code"] = code
	}
	c.JSON(statusForError(err), body)
}

func respondInvalidRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": string(apperr.KindValidation), "code": "request." + reason})
}
