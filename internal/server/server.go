// Package server exposes the description form and the upload and generation APIs over HTTP.
package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/jo-hoe/productscribe/internal/common"
	"github.com/jo-hoe/productscribe/internal/config"
	"github.com/jo-hoe/productscribe/internal/form"
	"github.com/jo-hoe/productscribe/internal/history"
	"github.com/jo-hoe/productscribe/internal/processor"
	"github.com/jo-hoe/productscribe/internal/storage"
)

// Service holds the dependencies the HTTP handlers share.
type Service struct {
	Log       *slog.Logger
	Cfg       *config.Config
	Sessions  *form.Sessions
	Uploader  *storage.Uploader
	Processor *processor.Service
	History   history.Store
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	if svc.Log == nil {
		svc.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Form pages
	mux.HandleFunc(http.MethodGet+" "+common.PathRoot+"{$}", svc.handleIndex)
	mux.HandleFunc(http.MethodPost+" "+common.PathFormImage, svc.withBodyLimit(svc.handleFormImage))
	mux.HandleFunc(http.MethodPost+" "+common.PathFormRemove, svc.withBodyLimit(svc.handleFormRemove))
	mux.HandleFunc(http.MethodPost+" "+common.PathFormToggle+"{code}", svc.withBodyLimit(svc.handleFormToggle))
	mux.HandleFunc(http.MethodPost+" "+common.PathFormSubmit, svc.withBodyLimit(svc.handleFormSubmit))

	// Collaborator APIs
	mux.HandleFunc(http.MethodPost+" "+common.PathUploads, svc.withAPI(svc.handleUpload))
	mux.HandleFunc(http.MethodGet+" "+common.PathUploadFiles+"{name}", svc.handleUploadFile)
	mux.HandleFunc(http.MethodPost+" "+common.PathGenerate, svc.withAPI(svc.handleGenerate))
	if svc.History != nil {
		mux.HandleFunc(http.MethodGet+" "+common.PathGenerations, svc.withAPI(svc.handleListGenerations))
		mux.HandleFunc(http.MethodGet+" "+common.PathGenerations+"/{id}", svc.withAPI(svc.handleGetGeneration))
	}

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux, svc.Log), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

// withAPI enforces the optional API key and the body size cap.
func (svc *Service) withAPI(next http.HandlerFunc) http.HandlerFunc {
	limited := svc.withBodyLimit(next)
	return func(w http.ResponseWriter, r *http.Request) {
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		limited(w, r)
	}
}

func (svc *Service) withBodyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if max := safeInt64(svc.Cfg.Server.MaxUploadSize); max > 0 {
			// Leave room for multipart framing around a maximum-size file.
			r.Body = http.MaxBytesReader(w, r.Body, max+multipartOverhead)
		}
		next.ServeHTTP(w, r)
	}
}

const multipartOverhead = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic in handler", "path", r.URL.Path, "panic", rec)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
