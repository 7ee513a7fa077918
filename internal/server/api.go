package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/productscribe/internal/common"
	"github.com/jo-hoe/productscribe/internal/generate"
	"github.com/jo-hoe/productscribe/internal/history"
	"github.com/jo-hoe/productscribe/internal/processor"
	"github.com/jo-hoe/productscribe/internal/storage"
	"github.com/jo-hoe/productscribe/internal/util"
)

const maxPageSize = 100

type uploadResponse struct {
	URL string `json:"url"`
}

func (svc *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(safeInt64(svc.Cfg.Server.MaxUploadSize)); err != nil {
		http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File[common.FormFieldFile]
	if len(files) == 0 {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	u, err := svc.Uploader.UploadMultipart(r.Context(), files[0])
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	case errors.Is(err, storage.ErrUnsupportedType), errors.Is(err, storage.ErrEmpty):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		svc.Log.Error("store upload", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	svc.Log.Info("upload stored", "url", u)
	writeJSON(w, http.StatusCreated, uploadResponse{URL: u})
}

func (svc *Service) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	path, mimeType, ok := svc.Uploader.Lookup(r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	http.ServeFile(w, r, path)
}

func (svc *Service) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generate.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	out, err := svc.Processor.Generate(r.Context(), req.ImageURL, req.Languages)
	switch {
	case errors.Is(err, processor.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "generation failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type generationOut struct {
	ID           string                 `json:"id"`
	ImageURL     string                 `json:"imageUrl"`
	Languages    []string               `json:"languages"`
	Descriptions []generate.Description `json:"descriptions"`
	Status       string                 `json:"status"`
	Error        any                    `json:"error"`
	Provider     string                 `json:"provider"`
	CreatedAt    time.Time              `json:"createdAt"`
	DurationMS   int64                  `json:"durationMs"`
}

func recordToOut(rec *history.Record) generationOut {
	out := generationOut{
		ID:           rec.ID,
		ImageURL:     rec.ImageURL,
		Languages:    rec.Languages,
		Descriptions: rec.Descriptions,
		Status:       rec.Status,
		Provider:     rec.Provider,
		CreatedAt:    rec.CreatedAt,
		DurationMS:   rec.Duration.Milliseconds(),
	}
	// Internal failure details stay in the logs.
	if rec.ErrorMessage != nil && *rec.ErrorMessage != "" {
		out.Error = "generation failed"
	}
	if out.Descriptions == nil {
		out.Descriptions = []generate.Description{}
	}
	return out
}

func (svc *Service) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !util.IsID(id) {
		http.NotFound(w, r)
		return
	}
	rec, err := svc.History.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		svc.Log.Error("load generation", "id", id, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recordToOut(rec))
}

func (svc *Service) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	limit := common.DefaultPageSize
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxPageSize)
	}
	recs, err := svc.History.Recent(r.Context(), limit)
	if err != nil {
		svc.Log.Error("list generations", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]generationOut, 0, len(recs))
	for i := range recs {
		out = append(out, recordToOut(&recs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}
