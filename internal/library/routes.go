package library

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/biblioteca/internal/auth"
	"github.com/ziadkadry99/biblioteca/internal/embeddings"
	"github.com/ziadkadry99/biblioteca/internal/extract"
)

// maxUploadBytes caps the size of an uploaded document.
const maxUploadBytes = 50 << 20

// RegisterRoutes mounts the library API routes. Writes require an elevated
// role.
func RegisterRoutes(r chi.Router, svc *Service, guard *auth.HeaderResolver) {
	r.Route("/api/library", func(r chi.Router) {
		r.Get("/documents", handleList(svc))
		r.Get("/documents/{id}", handleGet(svc))
		r.Post("/search", handleSearch(svc))

		r.Group(func(r chi.Router) {
			r.Use(guard.RequireElevated)
			r.Post("/documents", handleUpload(svc))
			r.Patch("/documents/{id}", handleUpdate(svc))
			r.Delete("/documents/{id}", handleDelete(svc))
		})
	})
}

func handleList(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := svc.List(r.Context(), r.URL.Query().Get("tag"))
		if err != nil {
			writeError(w, err)
			return
		}
		if docs == nil {
			docs = []Document{}
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func handleGet(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleUpload(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form: " + err.Error()})
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file is required"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reading upload: " + err.Error()})
			return
		}

		res, err := svc.Ingest(r.Context(), IngestRequest{
			Data:        data,
			FileName:    header.Filename,
			Title:       r.FormValue("title"),
			Author:      r.FormValue("author"),
			Kind:        r.FormValue("kind"),
			Description: r.FormValue("description"),
			Tags:        splitTags(r.FormValue("tags")),
			ReplaceID:   strings.TrimSpace(r.FormValue("replace")),
			UploadedBy:  auth.FromContext(r.Context()).UserID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func handleUpdate(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var upd MetadataUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		doc, err := svc.UpdateMetadata(r.Context(), chi.URLParam(r, "id"), upd)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleDelete(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSearch(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
			return
		}
		hits, err := svc.Search(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, hits)
	}
}

// splitTags accepts a comma separated list or a JSON array.
func splitTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var tags []string
		if err := json.Unmarshal([]byte(raw), &tags); err == nil {
			return tags
		}
	}
	return strings.Split(raw, ",")
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidKind):
		status = http.StatusBadRequest
	case errors.Is(err, extract.ErrUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, extract.ErrParse), errors.Is(err, extract.ErrEmptyExtraction):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, embeddings.ErrUnavailable):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
