package attachments

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"support-chat/internal/models"
	"support-chat/internal/observability"
)

// DeleteReport counts the outcome of a cleanup pass.
type DeleteReport struct {
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// DeleteMessageFiles removes the files referenced by the given messages. It
// never fails: missing or undeletable files are logged and counted.
func (s *Store) DeleteMessageFiles(companyID int, msgs []models.ChatMessage) DeleteReport {
	var report DeleteReport

	for _, msg := range msgs {
		if len(msg.Files) > 0 {
			for _, file := range msg.Files {
				if file.URL == "" {
					continue
				}
				target, ok := s.resolveURL(companyID, file.URL)
				if !ok {
					log.Warn().Int("message_id", msg.ID).Str("url", file.URL).Msg("invalid attachment url")
					report.Failed++
					continue
				}
				if !s.removeTolerant(target, &report, msg.ID) {
					continue
				}

				if file.Thumbnail != "" && file.Thumbnail != file.URL {
					if thumb, ok := s.resolveURL(companyID, file.Thumbnail); ok {
						if err := os.Remove(thumb); err != nil && !errors.Is(err, os.ErrNotExist) {
							log.Warn().Err(err).Int("message_id", msg.ID).Msg("could not delete thumbnail")
						}
					}
				}
			}
			continue
		}

		if msg.MediaPath != nil && *msg.MediaPath != "" {
			target, ok := s.resolveMediaPath(*msg.MediaPath)
			if !ok {
				report.Failed++
				continue
			}
			if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
				log.Warn().Int("message_id", msg.ID).Str("media_path", *msg.MediaPath).Msg("legacy media file not found")
				continue
			}
			s.removeTolerant(target, &report, msg.ID)
		}
	}

	observability.AddAttachmentDeletes(report.Deleted, report.Failed)
	return report
}

// removeTolerant deletes target and records the outcome. A missing file counts
// as a failure.
func (s *Store) removeTolerant(target string, report *DeleteReport, messageID int) bool {
	err := os.Remove(target)
	switch {
	case err == nil:
		report.Deleted++
		return true
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Int("message_id", messageID).Str("file", filepath.Base(target)).Msg("attachment not found on disk")
	default:
		log.Error().Err(err).Int("message_id", messageID).Msg("could not delete attachment")
	}
	report.Failed++
	return false
}

// resolveMediaPath resolves a legacy media path against the public root and
// refuses paths escaping it.
func (s *Store) resolveMediaPath(mediaPath string) (string, bool) {
	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(mediaPath, "/")))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return filepath.Join(s.root, rel), true
}
