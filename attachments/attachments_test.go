package attachments

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Desarso/taxassist/stores"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

var (
	pdfBytes  = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n")
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	textBytes = []byte("Form W-2\nWages, tips, other compensation: 85000.00\n")
	zipBytes  = []byte("PK\x03\x04\x14\x00\x00\x00\x08\x00")
)

func newTestRouter(store stores.BlobStore) (*gin.Engine, *Handler) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(store).WithLogger(log.New(io.Discard, "", 0))
	h.Register(r)
	return r, h
}

func upload(t *testing.T, r http.Handler, field, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUploadPDF(t *testing.T) {
	store := stores.NewMemoryStore()
	r, _ := newTestRouter(store)

	w := upload(t, r, FormField, "w2-2024.pdf", pdfBytes)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "w2-2024.pdf", resp.Attachment.Name)
	require.Equal(t, "application/pdf", resp.Attachment.ContentType)
	require.Equal(t, "w2-2024.pdf has been uploaded and is being analyzed.", resp.Message)
	require.Empty(t, resp.DocumentText)
	require.True(t, strings.HasPrefix(resp.Attachment.URL, "/api/attachments/"))

	blobs, err := store.List(context.Background(), KeyPrefix)
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	require.True(t, strings.HasSuffix(blobs[0].Key, "/w2-2024.pdf"))

	// The returned URL serves the stored bytes back.
	req := httptest.NewRequest(http.MethodGet, resp.Attachment.URL, nil)
	dl := httptest.NewRecorder()
	r.ServeHTTP(dl, req)
	require.Equal(t, http.StatusOK, dl.Code)
	require.Equal(t, pdfBytes, dl.Body.Bytes())
	require.Equal(t, "application/pdf", dl.Header().Get("Content-Type"))
	require.Contains(t, dl.Header().Get("Content-Disposition"), "w2-2024.pdf")
}

func TestUploadTextReturnsDocumentText(t *testing.T) {
	r, _ := newTestRouter(stores.NewMemoryStore())

	w := upload(t, r, FormField, "notes.txt", textBytes)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "text/plain", resp.Attachment.ContentType)
	require.Equal(t, string(textBytes), resp.DocumentText)
}

func TestUploadRejects(t *testing.T) {
	r, h := newTestRouter(stores.NewMemoryStore())
	h.WithMaxSize(64)

	tests := []struct {
		name  string
		field string
		data  []byte
		code  int
	}{
		{"unsupported type", FormField, zipBytes, http.StatusUnsupportedMediaType},
		{"empty file", FormField, nil, http.StatusBadRequest},
		{"wrong field", "document", pdfBytes, http.StatusBadRequest},
		{"too large", FormField, bytes.Repeat([]byte("a"), 65), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := upload(t, r, tt.field, "doc.bin", tt.data)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			require.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestUploadPNG(t *testing.T) {
	r, _ := newTestRouter(stores.NewMemoryStore())
	w := upload(t, r, FormField, "receipt.png", pngBytes)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"contentType":"image/png"`)
}

func TestDownloadNotFound(t *testing.T) {
	r, _ := newTestRouter(stores.NewMemoryStore())

	for _, url := range []string{
		"/api/attachments/not-a-uuid/doc.pdf",
		"/api/attachments/7c9e6679-7425-40de-944b-e07fc1f90ae7/doc.pdf",
	} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusNotFound, w.Code, url)
	}
}

func TestCleanName(t *testing.T) {
	tests := map[string]string{
		"w2.pdf":               "w2.pdf",
		"../../etc/passwd":     "passwd",
		`C:\Users\me\1099.pdf`: "1099.pdf",
		"":                     "document",
		"..":                   "document",
		"  spaced.txt  ":       "spaced.txt",
		"tab\tname.txt":        "tabname.txt",
	}
	for in, want := range tests {
		require.Equal(t, want, CleanName(in), in)
	}
}

func TestDetect(t *testing.T) {
	ct, ok := Detect(pdfBytes)
	require.True(t, ok)
	require.Equal(t, "application/pdf", ct)

	ct, ok = Detect(textBytes)
	require.True(t, ok)
	require.Equal(t, "text/plain", ct)

	ct, ok = Detect(zipBytes)
	require.False(t, ok)
	require.Equal(t, "application/zip", ct)
}

func TestJanitorSweep(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryStore()
	require.NoError(t, store.Put(ctx, Key("a", "old.pdf"), pdfBytes))
	require.NoError(t, store.Put(ctx, "chatHistory", []byte("[]")))

	j := NewJanitor(store, time.Hour)
	j.Logger = log.New(io.Discard, "", 0)

	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	j.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = j.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	blobs, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	require.Equal(t, "chatHistory", blobs[0].Key)
}

func TestJanitorSchedule(t *testing.T) {
	j := NewJanitor(stores.NewMemoryStore(), 0)
	j.Logger = log.New(io.Discard, "", 0)
	require.Equal(t, DefaultRetention, j.Retention)

	require.Error(t, j.Start("not a schedule"))
	require.NoError(t, j.Start("@every 1h"))
	require.NoError(t, j.Start("*/15 * * * *"))
	j.Stop()
	j.Stop()
}
