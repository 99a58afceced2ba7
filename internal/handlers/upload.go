package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"support-chat/internal/attachments"
)

// UploadMessage accepts multipart "files" (or "files[]") plus an optional
// "message" and posts them as a single chat message.
func (h *ChatHandler) UploadMessage(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files received"})
		return
	}

	var headers []*multipart.FileHeader
	headers = append(headers, form.File["files"]...)
	headers = append(headers, form.File["files[]"]...)
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files received"})
		return
	}

	uploads, err := h.spool(c, headers)
	defer removeTemp(uploads)
	if err != nil {
		log.Error().Err(err).Int("chat_id", chatID).Msg("could not spool upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process file upload", "details": "could not read uploaded files"})
		return
	}

	var text string
	if values := form.Value["message"]; len(values) > 0 {
		text = values[0]
	}

	msg, err := h.service.UploadMessage(c.Request.Context(), actorFromContext(c), chatID, text, uploads)
	if err != nil {
		respondError(c, err)
		return
	}
	h.emitAudit(c, "attachments uploaded to chat "+c.Param("id"))
	c.JSON(http.StatusOK, msg)
}

// spool writes each multipart file to its own temp file.
func (h *ChatHandler) spool(c *gin.Context, headers []*multipart.FileHeader) ([]attachments.Upload, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return nil, err
	}

	uploads := make([]attachments.Upload, 0, len(headers))
	for _, fh := range headers {
		tmp, err := os.CreateTemp(h.uploadDir, "upload-*")
		if err != nil {
			return uploads, err
		}
		tmpPath := tmp.Name()
		tmp.Close()

		uploads = append(uploads, attachments.Upload{
			Name:     filepath.Base(fh.Filename),
			Type:     fh.Header.Get("Content-Type"),
			Size:     fh.Size,
			TempPath: tmpPath,
		})
		if err := c.SaveUploadedFile(fh, tmpPath); err != nil {
			return uploads, err
		}
	}
	return uploads, nil
}

// removeTemp deletes spooled files that ingestion did not consume.
func removeTemp(uploads []attachments.Upload) {
	for _, up := range uploads {
		if err := os.Remove(up.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("file", up.Name).Msg("could not remove temporary upload")
		}
	}
}
