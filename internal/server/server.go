// Package server is the inbound HTTP surface used by the browser extension.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alanbriolat/post-archiver"
	"github.com/alanbriolat/post-archiver/async"
	"github.com/alanbriolat/post-archiver/internal/store"
	"github.com/alanbriolat/post-archiver/pipeline"
)

const (
	CodeInvalidJSON     = "INVALID_JSON"
	CodeTooLarge        = "PAYLOAD_TOO_LARGE"
	CodeValidation      = "VALIDATION_ERROR"
	CodeSinkAuth        = "DESTINATION_UNAUTHORIZED"
	CodeSinkInvalid     = "DESTINATION_REJECTED"
	CodeSinkFailed      = "DESTINATION_FAILED"
	CodeInternal        = "INTERNAL_ERROR"
	defaultMaxBodyBytes = 50 << 20
)

type Processor interface {
	Process(ctx context.Context, post *post_archiver.RawPost, opts ...pipeline.ProcessOption) (post_archiver.ProcessingResult, error)
}

type Investigations interface {
	PutInvestigation(inv store.Investigation) error
	ListInvestigations() ([]store.Investigation, error)
}

type Config struct {
	AllowedOrigin string
	MaxBodyBytes  int64
	Version       string
}

type Server struct {
	config         Config
	processor      Processor
	investigations Investigations
	started        time.Time
	mux            *http.ServeMux
}

type successResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type healthResponse struct {
	Status  string    `json:"status"`
	Version string    `json:"version,omitempty"`
	Time    time.Time `json:"time"`
	Uptime  string    `json:"uptime"`
}

func New(config Config, processor Processor, investigations Investigations) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{
		config:         config,
		processor:      processor,
		investigations: investigations,
		started:        time.Now(),
		mux:            http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /save-post", s.savePost)
	s.mux.HandleFunc("GET /health", s.health)
	s.mux.HandleFunc("POST /investigation/comments", s.addInvestigation)
	s.mux.HandleFunc("GET /investigation/comments", s.listInvestigations)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := s.config.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	s.mux.ServeHTTP(w, r)
}

func (s *Server) savePost(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := post_archiver.Logger(r.Context()).With(zap.String("request", requestID))
	// Processing runs to completion even if the client goes away; only per-call timeouts apply
	ctx := post_archiver.WithLogger(context.WithoutCancel(r.Context()), logger)

	var post post_archiver.RawPost
	if err := decodeJSON(r.Body, &post); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	started := time.Now()
	result, err := s.processor.Process(ctx, &post, pipeline.WithRequestID(requestID))
	if err != nil {
		writeProcessError(ctx, w, err)
		return
	}
	logger.Info("Saved post", zap.String("document", result.DocumentURL), zap.Duration("elapsed", time.Since(started)))
	writeJSON(ctx, w, http.StatusOK, successResponse{Success: true, Data: result})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	writeJSON(r.Context(), w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: s.config.Version,
		Time:    now.UTC(),
		Uptime:  now.Sub(s.started).Round(time.Second).String(),
	})
}

func (s *Server) addInvestigation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var payload json.RawMessage
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	inv := store.Investigation{ID: uuid.NewString(), Received: time.Now().UTC(), Payload: payload}
	if err := s.investigations.PutInvestigation(inv); err != nil {
		post_archiver.Logger(ctx).Error("Failed to store investigation", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, CodeInternal, "failed to store payload")
		return
	}
	post_archiver.Logger(ctx).Info("Stored investigation", zap.String("id", inv.ID), zap.Int("bytes", len(payload)))
	writeJSON(ctx, w, http.StatusOK, successResponse{Success: true, Data: map[string]string{"id": inv.ID}})
}

func (s *Server) listInvestigations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	investigations, err := s.investigations.ListInvestigations()
	if err != nil {
		post_archiver.Logger(ctx).Error("Failed to list investigations", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, CodeInternal, "failed to list payloads")
		return
	}
	if investigations == nil {
		investigations = []store.Investigation{}
	}
	writeJSON(ctx, w, http.StatusOK, successResponse{Success: true, Data: investigations})
}

func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(ctx, w, http.StatusRequestEntityTooLarge, CodeTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeError(ctx, w, http.StatusBadRequest, CodeInvalidJSON, err.Error())
}

// writeProcessError maps a processing failure to a response. Anything the destination service rejected is a bad
// gateway, since the request itself was fine.
func writeProcessError(ctx context.Context, w http.ResponseWriter, err error) {
	var validationErr *post_archiver.ValidationError
	var sinkErr *post_archiver.SinkError
	switch {
	case errors.As(err, &validationErr):
		writeError(ctx, w, http.StatusBadRequest, CodeValidation, validationErr.Error())
	case errors.As(err, &sinkErr) && sinkErr.Kind == post_archiver.SinkUnauthorized:
		writeError(ctx, w, http.StatusBadGateway, CodeSinkAuth, sinkErr.Error())
	case errors.As(err, &sinkErr) && sinkErr.Kind == post_archiver.SinkInvalid:
		writeError(ctx, w, http.StatusBadGateway, CodeSinkInvalid, sinkErr.Error())
	case errors.As(err, &sinkErr):
		writeError(ctx, w, http.StatusInternalServerError, CodeSinkFailed, sinkErr.Error())
	default:
		writeError(ctx, w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code string, message string) {
	writeJSON(ctx, w, status, errorResponse{Error: http.StatusText(status), Message: message, Code: code})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		post_archiver.Logger(ctx).Warn("Failed to write response", zap.Error(err))
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully, giving in-flight requests up to
// shutdownTimeout to finish.
func ListenAndServe(ctx context.Context, server *http.Server, shutdownTimeout time.Duration) error {
	logger := post_archiver.Logger(ctx)
	logger.Info("Listening", zap.String("addr", server.Addr))
	errs := async.Run(server.ListenAndServe)
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
