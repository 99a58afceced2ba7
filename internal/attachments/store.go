package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"support-chat/internal/models"
	"support-chat/internal/observability"
)

const (
	chatsDir       = "chats"
	audioMIME      = "audio/mp4"
	audioFormat    = "m4a"
	maxParallelism = 4
)

var (
	audioExtensions = map[string]struct{}{
		"mp3": {}, "wav": {}, "ogg": {}, "m4a": {}, "aac": {}, "mpeg": {}, "opus": {},
	}
	unsafeFileName = regexp.MustCompile(`[^a-zA-Z0-9.]`)
	unsafeBaseName = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// Upload is a file received by the HTTP layer and spooled to a temp path.
type Upload struct {
	Name     string
	Type     string
	Size     int64
	TempPath string
}

// Store keeps chat attachments under {root}/company{id}/chats.
type Store struct {
	root    string
	encoder Encoder
	now     func() time.Time
	suffix  func() string
}

// NewStore builds a Store rooted at the public directory.
func NewStore(root string, encoder Encoder) *Store {
	return &Store{
		root:    root,
		encoder: encoder,
		now:     time.Now,
		suffix:  func() string { return uuid.NewString()[:8] },
	}
}

// ChatDir is the on-disk directory holding the company's chat attachments.
func (s *Store) ChatDir(companyID int) string {
	return filepath.Join(s.root, tenantPrefix(companyID), chatsDir)
}

func tenantPrefix(companyID int) string {
	return "company" + strconv.Itoa(companyID)
}

// IsAudio classifies an upload by MIME type or extension.
func IsAudio(name, mimeType string) bool {
	if strings.Contains(mimeType, "audio") {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	_, ok := audioExtensions[ext]
	return ok
}

// IngestBatch ingests uploads concurrently and returns attachments in upload
// order. If any upload fails, files already placed for this batch are removed
// and the first error is returned.
func (s *Store) IngestBatch(ctx context.Context, companyID int, uploads []Upload) ([]models.Attachment, error) {
	if err := os.MkdirAll(s.ChatDir(companyID), 0o755); err != nil {
		return nil, fmt.Errorf("create chats dir: %w", err)
	}

	results := make([]models.Attachment, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelism)
	for i, up := range uploads {
		i, up := i, up
		g.Go(func() error {
			att, err := s.Ingest(gctx, companyID, up)
			if err != nil {
				return fmt.Errorf("ingest %q: %w", up.Name, err)
			}
			results[i] = att
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		placed := make([]models.Attachment, 0, len(results))
		for _, att := range results {
			if att.URL != "" {
				placed = append(placed, att)
			}
		}
		s.Discard(companyID, placed)
		return nil, err
	}
	return results, nil
}

// Ingest moves one upload into the company's chats directory, transcoding
// audio to M4A.
func (s *Store) Ingest(ctx context.Context, companyID int, up Upload) (models.Attachment, error) {
	dir := s.ChatDir(companyID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.Attachment{}, fmt.Errorf("create chats dir: %w", err)
	}

	if IsAudio(up.Name, up.Type) {
		return s.ingestAudio(ctx, companyID, dir, up)
	}

	fileName := s.uniquePrefix() + unsafeFileName.ReplaceAllString(up.Name, "_")
	target := filepath.Join(dir, fileName)
	if err := moveFile(up.TempPath, target); err != nil {
		return models.Attachment{}, err
	}
	observability.IncAttachmentIngest("stored")

	return models.Attachment{
		Name: up.Name,
		Size: up.Size,
		Type: up.Type,
		URL:  publicURL(companyID, fileName),
	}, nil
}

func (s *Store) ingestAudio(ctx context.Context, companyID int, dir string, up Upload) (models.Attachment, error) {
	base := strings.SplitN(up.Name, ".", 2)[0]
	fileName := s.uniquePrefix() + unsafeBaseName.ReplaceAllString(base, "_") + "." + audioFormat
	target := filepath.Join(dir, fileName)

	if err := s.encoder.Transcode(ctx, up.TempPath, target); err != nil {
		log.Warn().Err(err).Str("file", up.Name).Msg("audio transcoding failed, storing original bytes")
		observability.IncAttachmentIngest("transcode_fallback")
		if err := copyFile(up.TempPath, target); err != nil {
			return models.Attachment{}, fmt.Errorf("copy audio fallback: %w", err)
		}
	} else {
		observability.IncAttachmentIngest("transcoded")
	}

	if err := os.Remove(up.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("file", up.Name).Msg("could not remove temporary upload")
	}

	att := models.Attachment{
		Name: base + "." + audioFormat,
		Size: up.Size,
		Type: audioMIME,
		URL:  publicURL(companyID, fileName),
	}

	duration, err := s.encoder.Probe(ctx, target)
	if err != nil {
		log.Warn().Err(err).Str("file", fileName).Msg("could not probe audio duration")
		return att, nil
	}
	att.Metadata = models.AttachmentMetadata{
		Duration:            &duration,
		Format:              audioFormat,
		UniversalCompatible: true,
	}
	return att, nil
}

// Discard removes files placed for attachments that will not be persisted.
func (s *Store) Discard(companyID int, atts []models.Attachment) {
	for _, att := range atts {
		p, ok := s.resolveURL(companyID, att.URL)
		if !ok {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("url", att.URL).Msg("could not discard attachment")
		}
	}
}

func (s *Store) uniquePrefix() string {
	return strconv.FormatInt(s.now().UnixMilli(), 10) + "-" + s.suffix() + "-"
}

func publicURL(companyID int, fileName string) string {
	return filepath.ToSlash(filepath.Join(tenantPrefix(companyID), chatsDir, fileName))
}

// resolveURL maps an attachment url onto the chats directory using only its
// trailing path segment.
func (s *Store) resolveURL(companyID int, url string) (string, bool) {
	name := path.Base(strings.ReplaceAll(url, "\\", "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", false
	}
	return filepath.Join(s.ChatDir(companyID), name), true
}

// moveFile renames src to dst, falling back to copy and delete when a rename
// is not possible (for example across devices).
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	log.Debug().Err(err).Str("dst", dst).Msg("rename failed, falling back to copy")
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("move attachment: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("move attachment: %w", err)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
