// Package attachments accepts tax document uploads (W-2, 1099, receipts) and
// keeps them in a blob store so chat messages can reference them.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/Desarso/taxassist/models"
	"github.com/Desarso/taxassist/stores"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// MaxUploadSize caps a single document at 10 MiB.
	MaxUploadSize = 10 << 20
	// KeyPrefix namespaces uploaded blobs in a shared store.
	KeyPrefix = "attachments/"
	// FormField is the multipart field carrying the document.
	FormField = "file"
)

// AllowedTypes lists the detected content types accepted for upload.
var AllowedTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"text/plain",
}

var (
	ErrNoFile          = errors.New("no file uploaded")
	ErrEmptyFile       = errors.New("uploaded file is empty")
	ErrTooLarge        = fmt.Errorf("file exceeds %d MB limit", MaxUploadSize>>20)
	ErrUnsupportedType = errors.New("unsupported file type: supports PDF, JPG, PNG and plain text")
)

// UploadResponse is returned by a successful upload. DocumentText is only set
// for plain text documents.
type UploadResponse struct {
	Attachment   models.Attachment `json:"attachment"`
	Message      string            `json:"message"`
	DocumentText string            `json:"document_text,omitempty"`
}

type Handler struct {
	Store    stores.BlobStore
	Logger   *log.Logger
	MaxSize  int64
	BasePath string
}

func NewHandler(store stores.BlobStore) *Handler {
	return &Handler{
		Store:    store,
		Logger:   log.New(os.Stderr, "[ATTACH] ", log.LstdFlags),
		MaxSize:  MaxUploadSize,
		BasePath: "/api/attachments",
	}
}

func (h *Handler) WithLogger(l *log.Logger) *Handler {
	if l != nil {
		h.Logger = l
	}
	return h
}

func (h *Handler) WithMaxSize(n int64) *Handler {
	if n > 0 {
		h.MaxSize = n
	}
	return h
}

// Register mounts the upload and download routes.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/api/upload", h.Upload)
	r.GET(h.BasePath+"/:id/:name", h.Download)
}

// Upload godoc
// @Summary Upload a tax document
// @Accept multipart/form-data
// @Produce json
// @Router /api/upload [post]
func (h *Handler) Upload(c *gin.Context) {
	// Leave room for the multipart envelope around the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxSize+1<<20)

	file, header, err := c.Request.FormFile(FormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": ErrTooLarge.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrNoFile.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.MaxSize+1))
	if err != nil {
		h.Logger.Printf("Error reading upload %q: %v", header.Filename, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.Save(c.Request.Context(), header.Filename, data)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Save validates and stores one document.
func (h *Handler) Save(ctx context.Context, filename string, data []byte) (UploadResponse, error) {
	if len(data) == 0 {
		return UploadResponse{}, ErrEmptyFile
	}
	if int64(len(data)) > h.MaxSize {
		return UploadResponse{}, ErrTooLarge
	}

	contentType, ok := Detect(data)
	if !ok {
		h.Logger.Printf("Rejected %q: detected %s", filename, contentType)
		return UploadResponse{}, ErrUnsupportedType
	}

	name := CleanName(filename)
	id := uuid.NewString()
	if err := h.Store.Put(ctx, Key(id, name), data); err != nil {
		h.Logger.Printf("Error storing %q: %v", name, err)
		return UploadResponse{}, fmt.Errorf("failed to store attachment: %w", err)
	}
	h.Logger.Printf("Stored %q (%s, %d bytes) as %s", name, contentType, len(data), id)

	resp := UploadResponse{
		Attachment: models.Attachment{
			Name:        name,
			URL:         h.BasePath + "/" + id + "/" + url.PathEscape(name),
			ContentType: contentType,
		},
		Message: name + " has been uploaded and is being analyzed.",
	}
	if contentType == "text/plain" {
		resp.DocumentText = string(data)
	}
	return resp, nil
}

// Download godoc
// @Summary Fetch an uploaded document
// @Router /api/attachments/{id}/{name} [get]
func (h *Handler) Download(c *gin.Context) {
	id, name := c.Param("id"), c.Param("name")
	if _, err := uuid.Parse(id); err != nil || name != CleanName(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		return
	}

	data, err := h.Store.Get(c.Request.Context(), Key(id, name))
	if errors.Is(err, stores.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		return
	}
	if err != nil {
		h.Logger.Printf("Error loading %s/%s: %v", id, name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attachment"})
		return
	}

	c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}

// Detect sniffs data and reports its media type without parameters and
// whether it is accepted for upload.
func Detect(data []byte) (string, bool) {
	mt := mimetype.Detect(data)
	base, _, err := mime.ParseMediaType(mt.String())
	if err != nil {
		base = mt.String()
	}
	for _, allowed := range AllowedTypes {
		if mt.Is(allowed) {
			return allowed, true
		}
	}
	return base, false
}

// CleanName reduces a client supplied filename to a single safe path
// segment.
func CleanName(filename string) string {
	name := strings.ReplaceAll(filename, "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "document"
	}
	return name
}

// Key returns the blob key for an attachment.
func Key(id, name string) string {
	return KeyPrefix + id + "/" + name
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrEmptyFile):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
