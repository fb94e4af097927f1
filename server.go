// Package taxassist wires the TaxAssist HTTP server: the chat relay, document
// uploads, suggested questions and the API description.
package taxassist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/Desarso/taxassist/attachments"
	"github.com/Desarso/taxassist/docs"
	"github.com/Desarso/taxassist/models"
	"github.com/Desarso/taxassist/relay"
	"github.com/Desarso/taxassist/stores"
	"github.com/gin-gonic/gin"
	"github.com/swaggo/swag"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// SuggestedQuestions are offered to users who have not asked anything yet.
var SuggestedQuestions = []string{
	"How do tax brackets work?",
	"What deductions am I eligible for?",
	"Explain standard vs. itemized deductions",
	"What's the difference between W-2 and 1099?",
}

const shutdownTimeout = 10 * time.Second

type Server struct {
	Config  *Config
	Router  *gin.Engine
	Model   models.Model
	Uploads stores.BlobStore
	Janitor *attachments.Janitor
	Logger  *log.Logger
}

// NewServer opens the configured model and attachment store and mounts every
// route.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	model, err := NewModel(cfg.Model, nil)
	if err != nil {
		return nil, err
	}
	uploads, err := stores.NewStore(&cfg.Attachments.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment store: %w", err)
	}
	return NewServerWith(cfg, model, uploads), nil
}

// NewServerWith mounts the routes around an existing model and store.
func NewServerWith(cfg *Config, model models.Model, uploads stores.BlobStore) *Server {
	s := &Server{
		Config:  cfg,
		Model:   model,
		Uploads: uploads,
		Janitor: attachments.NewJanitor(uploads, cfg.Attachments.Retention.Duration),
		Logger:  log.New(os.Stderr, "[SERVER] ", log.LstdFlags),
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	relay.NewHandler(model).WithTemplateHints(cfg.TemplateHints).Register(r)
	attachments.NewHandler(uploads).WithMaxSize(int64(cfg.Attachments.MaxSizeMB) << 20).Register(r)

	r.GET("/api/suggestions", s.suggestions)
	r.GET("/health", s.health)
	r.GET("/swagger/doc.json", s.apiDoc)

	s.Router = r
	return s
}

func (s *Server) suggestions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"questions": SuggestedQuestions})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": s.Model.Name()})
}

func (s *Server) apiDoc(c *gin.Context) {
	doc, err := swag.ReadDoc(docs.SwaggerInfo.InstanceName())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(doc))
}

// Handler serves the router over HTTP/1.1 and cleartext HTTP/2.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(s.Router, &http2.Server{})
}

// Run listens on Config.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if spec := s.Config.Attachments.Schedule; spec != "" {
		if err := s.Janitor.Start(spec); err != nil {
			return err
		}
		defer s.Janitor.Stop()
	}
	defer s.Uploads.Close()

	srv := &http.Server{
		Addr:              s.Config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Printf("Listening on %s (model %s)", s.Config.Addr, s.Model.Name())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Logger.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
