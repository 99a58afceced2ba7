package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"support-chat/internal/services"
)

// respondError maps service errors onto HTTP responses.
func respondError(c *gin.Context, err error) {
	var (
		notFound   *services.NotFoundError
		validation *services.ValidationError
		forbidden  *services.ForbiddenError
		ioErr      *services.AttachmentIOError
	)

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Code, "message": notFound.Message})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": forbidden.Message})
	case errors.As(err, &ioErr):
		log.Error().Err(err).Str("path", c.FullPath()).Msg("attachment processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process file upload", "details": ioErr.Public()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "details": err.Error()})
	}
}
