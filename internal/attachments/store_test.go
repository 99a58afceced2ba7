package attachments

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat/internal/models"
)

type fakeEncoder struct {
	transcodeErr error
	duration     float64
	probeErr     error
}

func (f *fakeEncoder) Transcode(ctx context.Context, inputPath, outputPath string) error {
	if f.transcodeErr != nil {
		return f.transcodeErr
	}
	return os.WriteFile(outputPath, []byte("aac"), 0o644)
}

func (f *fakeEncoder) Probe(ctx context.Context, path string) (float64, error) {
	if f.probeErr != nil {
		return 0, f.probeErr
	}
	return f.duration, nil
}

func newTestStore(t *testing.T, enc Encoder) *Store {
	t.Helper()
	s := NewStore(t.TempDir(), enc)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return s
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestIsAudio(t *testing.T) {
	cases := []struct {
		name, mime string
		want       bool
	}{
		{"voice.ogg", "application/octet-stream", true},
		{"voice.OPUS", "", true},
		{"clip.bin", "audio/webm", true},
		{"report.pdf", "application/pdf", false},
		{"noext", "image/png", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsAudio(tc.name, tc.mime), tc.name)
	}
}

func TestIngestNonAudioMovesFile(t *testing.T) {
	s := newTestStore(t, &fakeEncoder{})
	tmp := writeTemp(t, "upload", "pdf-bytes")

	att, err := s.Ingest(context.Background(), 7, Upload{Name: "my report (1).pdf", Type: "application/pdf", Size: 9, TempPath: tmp})
	require.NoError(t, err)

	assert.Equal(t, "my report (1).pdf", att.Name)
	assert.Equal(t, "application/pdf", att.Type)
	assert.True(t, strings.HasPrefix(att.URL, "company7/chats/1700000000000-"), att.URL)
	assert.True(t, strings.HasSuffix(att.URL, "-my_report__1_.pdf"), att.URL)

	data, err := os.ReadFile(filepath.Join(s.ChatDir(7), filepath.Base(att.URL)))
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", string(data))
	_, err = os.Stat(tmp)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestIngestAudioTranscodes(t *testing.T) {
	s := newTestStore(t, &fakeEncoder{duration: 2.5})
	tmp := writeTemp(t, "upload", "wav-bytes")

	att, err := s.Ingest(context.Background(), 1, Upload{Name: "voice note.wav", Type: "audio/wav", Size: 9, TempPath: tmp})
	require.NoError(t, err)

	assert.Equal(t, "voice note.m4a", att.Name)
	assert.Equal(t, "audio/mp4", att.Type)
	assert.True(t, strings.HasSuffix(att.URL, "-voice_note.m4a"), att.URL)
	require.NotNil(t, att.Metadata.Duration)
	assert.Equal(t, 2.5, *att.Metadata.Duration)
	assert.Equal(t, "m4a", att.Metadata.Format)
	assert.True(t, att.Metadata.UniversalCompatible)

	data, err := os.ReadFile(filepath.Join(s.ChatDir(1), filepath.Base(att.URL)))
	require.NoError(t, err)
	assert.Equal(t, "aac", string(data))
	_, err = os.Stat(tmp)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestIngestAudioFallsBackToCopy(t *testing.T) {
	s := newTestStore(t, &fakeEncoder{transcodeErr: errors.New("ffmpeg missing"), probeErr: errors.New("ffprobe missing")})
	tmp := writeTemp(t, "upload", "raw-wav")

	att, err := s.Ingest(context.Background(), 1, Upload{Name: "memo.wav", Type: "application/octet-stream", Size: 7, TempPath: tmp})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(att.Name, ".m4a"))
	assert.Equal(t, "audio/mp4", att.Type)
	assert.Nil(t, att.Metadata.Duration)
	assert.Empty(t, att.Metadata.Format)

	data, err := os.ReadFile(filepath.Join(s.ChatDir(1), filepath.Base(att.URL)))
	require.NoError(t, err)
	assert.Equal(t, "raw-wav", string(data))
}

func TestIngestBatchKeepsOrderAndRollsBack(t *testing.T) {
	s := newTestStore(t, &fakeEncoder{duration: 1})
	ctx := context.Background()

	ok, err := s.IngestBatch(ctx, 1, []Upload{
		{Name: "a.txt", Type: "text/plain", TempPath: writeTemp(t, "a", "a")},
		{Name: "b.mp3", Type: "audio/mpeg", TempPath: writeTemp(t, "b", "b")},
	})
	require.NoError(t, err)
	require.Len(t, ok, 2)
	assert.Equal(t, "a.txt", ok[0].Name)
	assert.Equal(t, "b.m4a", ok[1].Name)

	before, err := os.ReadDir(s.ChatDir(1))
	require.NoError(t, err)

	_, err = s.IngestBatch(ctx, 1, []Upload{
		{Name: "c.txt", Type: "text/plain", TempPath: writeTemp(t, "c", "c")},
		{Name: "gone.txt", Type: "text/plain", TempPath: filepath.Join(t.TempDir(), "missing")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone.txt")

	after, err := os.ReadDir(s.ChatDir(1))
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestDeleteMessageFiles(t *testing.T) {
	s := newTestStore(t, &fakeEncoder{})
	dir := s.ChatDir(3)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"1-a.pdf", "2-b.png", "2-b-thumb.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	legacyDir := filepath.Join(s.root, "company3")
	require.NoError(t, os.WriteFile(filepath.Join(legacyDir, "legacy.jpg"), []byte("x"), 0o644))
	legacy := "/company3/legacy.jpg"
	escape := "../../etc/passwd"

	report := s.DeleteMessageFiles(3, []models.ChatMessage{
		{ID: 1, Files: models.Attachments{{URL: "company3/chats/1-a.pdf"}}},
		{ID: 2, Files: models.Attachments{{URL: "company3/chats/2-b.png", Thumbnail: "company3/chats/2-b-thumb.png"}}},
		{ID: 3, Files: models.Attachments{{URL: "company3/chats/already-gone.pdf"}, {URL: ""}}},
		{ID: 4, MediaPath: &legacy},
		{ID: 5, MediaPath: &escape},
	})

	assert.Equal(t, DeleteReport{Deleted: 3, Failed: 2}, report)
	left, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, left)
	_, err = os.Stat(filepath.Join(legacyDir, "legacy.jpg"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("12.480000\n")
	require.NoError(t, err)
	assert.InDelta(t, 12.48, d, 0.0001)

	_, err = parseDuration("N/A")
	assert.Error(t, err)
}
