package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"support-chat/internal/attachments"
	"support-chat/internal/mocks"
	"support-chat/internal/models"
	"support-chat/internal/services"
	"support-chat/internal/telemetry"
)

var caller = services.Actor{UserID: 1, CompanyID: 3}

func setupChatRouter(t *testing.T, service *mocks.ChatServiceMock, audit *telemetry.AuditEmitter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", caller.UserID)
		c.Set("companyID", caller.CompanyID)
		c.Next()
	})
	NewChatHandler(service, audit, t.TempDir(), 1<<20).Register(r)
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestListChatsPaginates(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	page := models.NewPage([]models.Chat{{ID: 7, Title: "Support"}}, 25, 20)
	service.On("ListForOwner", mock.Anything, caller, 2).Return(page, nil).Once()
	service.On("ListForOwner", mock.Anything, caller, 1).Return(models.NewPage[models.Chat](nil, 0, 0), nil).Once()

	rec := doJSON(router, http.MethodGet, "/chats?pageNumber=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Records []models.Chat `json:"records"`
		Count   int           `json:"count"`
		HasMore bool          `json:"hasMore"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 25, resp.Count)
	assert.Len(t, resp.Records, 1)
	assert.True(t, resp.HasMore)

	rec = doJSON(router, http.MethodGet, "/chats?pageNumber=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"records":[],"count":0,"hasMore":false}`, rec.Body.String())

	service.AssertExpectations(t)
}

func TestCreateChatEmitsAudit(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	bus := new(mocks.BusMock)
	audit := telemetry.NewAuditEmitter(bus, "audit.chat", "support-chat", "test")
	router := setupChatRouter(t, service, audit)

	in := services.ChatInput{Title: "Support", Users: []int{2}}
	service.On("Create", mock.Anything, caller, in).Return(models.Chat{ID: 5, Title: "Support", Users: []models.ChatUser{{UserID: 1}, {UserID: 2}}}, nil).Once()
	bus.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Text == "chat 5 created with 2 members" && env.CompanyID != nil && *env.CompanyID == 3
	})).Return(nil).Once()

	rec := doJSON(router, http.MethodPost, "/chats", `{"title":"Support","users":[2]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	service.AssertExpectations(t)
	bus.AssertExpectations(t)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"not found", services.ErrChatNotFound, http.StatusNotFound, `"ERR_NO_CHAT_FOUND"`},
		{"validation", &services.ValidationError{Field: "title", Message: "title is required"}, http.StatusBadRequest, "title is required"},
		{"forbidden", services.ErrNotMember, http.StatusForbidden, "not a member"},
		{"attachment io", &services.AttachmentIOError{Op: "store attachments", Err: &os.PathError{Op: "open", Path: "/secret/dir", Err: os.ErrNotExist}}, http.StatusInternalServerError, "store attachments: open"},
		{"unexpected", errors.New("db down"), http.StatusInternalServerError, "db down"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := new(mocks.ChatServiceMock)
			router := setupChatRouter(t, service, nil)
			service.On("MarkRead", mock.Anything, caller, 4).Return(nil, tc.err).Once()

			rec := doJSON(router, http.MethodPost, "/chats/4/read", "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.body)
			assert.NotContains(t, rec.Body.String(), "/secret/dir")
		})
	}
}

func TestInvalidChatID(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	for _, path := range []string{"/chats/abc/messages", "/chats/0/messages"} {
		rec := doJSON(router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	service.AssertNotCalled(t, "ListMessages")
}

func TestShowChatByUUID(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	service.On("Show", mock.Anything, caller, "5f1c").Return(models.Chat{ID: 9, UUID: "5f1c"}, nil).Once()

	rec := doJSON(router, http.MethodGet, "/chats/5f1c", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"uuid":"5f1c"`)
}

func TestSendMessageAndDelete(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	service.On("SendMessage", mock.Anything, caller, 4, "hello").Return(models.ChatMessage{ID: 1, Message: "hello"}, nil).Once()
	service.On("Delete", mock.Anything, caller, 4).Return(attachments.DeleteReport{Deleted: 2}, nil).Once()

	rec := doJSON(router, http.MethodPost, "/chats/4/messages", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(router, http.MethodDelete, "/chats/4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":2`)

	service.AssertExpectations(t)
}

func multipartBody(t *testing.T, files map[string]string, message string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	if message != "" {
		require.NoError(t, w.WriteField("message", message))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestUploadMessageSpoolsFiles(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	var spooled []attachments.Upload
	service.On("UploadMessage", mock.Anything, caller, 4, "see attached", mock.Anything).
		Run(func(args mock.Arguments) {
			spooled = args.Get(4).([]attachments.Upload)
			for _, up := range spooled {
				data, err := os.ReadFile(up.TempPath)
				require.NoError(t, err)
				assert.Equal(t, "voice-bytes", string(data))
			}
		}).
		Return(models.ChatMessage{ID: 11, Files: models.Attachments{{Name: "note.m4a", Type: "audio/mp4"}}}, nil).Once()

	body, contentType := multipartBody(t, map[string]string{"note.wav": "voice-bytes"}, "see attached")
	req := httptest.NewRequest(http.MethodPost, "/chats/4/messages/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "audio/mp4")
	require.Len(t, spooled, 1)
	assert.Equal(t, "note.wav", spooled[0].Name)
	assert.Equal(t, int64(len("voice-bytes")), spooled[0].Size)

	_, err := os.Stat(spooled[0].TempPath)
	assert.True(t, errors.Is(err, os.ErrNotExist), "leftover temp files are removed")
	service.AssertExpectations(t)
}

func TestUploadMessageWithoutFiles(t *testing.T) {
	service := new(mocks.ChatServiceMock)
	router := setupChatRouter(t, service, nil)

	body, contentType := multipartBody(t, nil, "just text")
	req := httptest.NewRequest(http.MethodPost, "/chats/4/messages/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no files received")
	service.AssertNotCalled(t, "UploadMessage")
}
