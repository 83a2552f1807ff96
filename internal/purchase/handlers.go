package purchase

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

const maxUploadSize = int64(50 << 20) // 50MB, enough for high-resolution phone photos

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps service errors onto status codes
func writeServiceError(w http.ResponseWriter, err error, action string) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    verr.Error(),
			"problems": verr.Problems,
		})
	case IsNotFound(err):
		writeError(w, "Purchase not found", http.StatusNotFound)
	default:
		slog.Error("Error "+action, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// filterFromQuery reads q, from and to from the query string
func filterFromQuery(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{
		Q:    strings.TrimSpace(q.Get("q")),
		From: strings.TrimSpace(q.Get("from")),
		To:   strings.TrimSpace(q.Get("to")),
	}
	for name, v := range map[string]string{"from": f.From, "to": f.To} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			return Filter{}, fmt.Errorf("%s must be a YYYY-MM-DD date", name)
		}
	}
	return f, nil
}

// handleListPurchases returns the filtered purchases and their total
func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := s.service.List(filter)
	if err != nil {
		writeServiceError(w, err, "listing purchases")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handlePreview extracts an uploaded receipt into an unsaved purchase
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("document")
	if err != nil {
		writeError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := uploadContentType(header.Header.Get("Content-Type"), header.Filename)

	preview, err := s.service.Preview(r.Context(), header.Filename, data, contentType)
	if err != nil {
		writeServiceError(w, err, "previewing purchase")
		return
	}

	code := http.StatusOK
	if preview.Failed {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, preview)
}

// uploadContentType normalizes the declared type, guessing from the extension when missing
func uploadContentType(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}

func decodePurchase(r *http.Request) (*Purchase, error) {
	var p Purchase
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// handleCreatePurchase saves a (usually previewed and edited) purchase
func (s *Server) handleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	p, err := decodePurchase(r)
	if err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	created, err := s.service.Create(p)
	if err != nil {
		writeServiceError(w, err, "creating purchase")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleGetPurchase returns a single purchase
func (s *Server) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.Get(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "getting purchase")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleUpdatePurchase replaces the editable fields of a purchase
func (s *Server) handleUpdatePurchase(w http.ResponseWriter, r *http.Request) {
	p, err := decodePurchase(r)
	if err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	updated, err := s.service.Update(r.PathValue("id"), p)
	if err != nil {
		writeServiceError(w, err, "updating purchase")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeletePurchase deletes a purchase
func (s *Server) handleDeletePurchase(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.PathValue("id")); err != nil {
		writeServiceError(w, err, "deleting purchase")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteAll deletes every purchase
func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.DeleteAll()
	if err != nil {
		writeServiceError(w, err, "deleting purchases")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

// handleDeleteFiltered deletes the purchases matching the query filter
func (s *Server) handleDeleteFiltered(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	count, err := s.service.DeleteFiltered(filter)
	if err != nil {
		writeServiceError(w, err, "deleting filtered purchases")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

// handleGetDocument returns the uploaded document of a purchase
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetDocument(r.PathValue("id"))
	if err != nil {
		if IsNotFound(err) {
			writeError(w, "Document not found", http.StatusNotFound)
			return
		}
		writeServiceError(w, err, "getting document")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "inline")
	w.Write(data)
}

// handleExport returns the filtered purchases as an Excel workbook
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := s.service.ExportXLSX(filter)
	if err != nil {
		writeServiceError(w, err, "exporting purchases")
		return
	}

	filename := fmt.Sprintf("purchases-%s.xlsx", s.service.timeSource.Now().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Write(data)
}
