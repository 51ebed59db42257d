package invoice

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// singleResponse is the flat shape returned for a one-image upload
type singleResponse struct {
	Status Status `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// invoiceData is a CanonicalInvoice plus its record identity, when persisted
type invoiceData struct {
	ID         string     `json:"id,omitempty"`
	UploadedAt *time.Time `json:"uploaded_at,omitempty"`
	CanonicalInvoice
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Server is running!"})
}

// handleUpload runs one uploaded blob through the pipeline
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File is too large. Maximum size is %dMB.", s.maxUploadBytes>>20))
			return
		}
		writeError(w, http.StatusBadRequest, ErrNoFile.Error())
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, http.StatusBadRequest, ErrNoFile.Error())
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	result, err := s.service.Ingest(r.Context(), header.Filename, data, header.Header.Get("Content-Type"))
	if errors.Is(err, ErrNoFile) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("Error ingesting upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if result.Single {
		writeJSON(w, http.StatusOK, toSingleResponse(result.Results[0]))
		return
	}
	writeJSON(w, http.StatusOK, BatchResult{Results: result.Results})
}

func toSingleResponse(item ItemResult) singleResponse {
	if item.Status != StatusSuccess {
		return singleResponse{Status: item.Status, Error: item.Error}
	}
	return singleResponse{
		Status: item.Status,
		Data: invoiceData{
			ID:               item.ID,
			UploadedAt:       item.UploadedAt,
			CanonicalInvoice: *item.Invoice,
		},
		Error: item.Error,
	}
}

// handleListInvoices returns all persisted invoices
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListInvoices()
	if err != nil {
		slog.Error("Error listing invoices", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if records == nil {
		records = []*Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetInvoice returns a single invoice
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	record, err := s.service.GetInvoice(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invoice not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleGetInvoiceFile returns the upload an invoice was extracted from
func (s *Server) handleGetInvoiceFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetInvoiceFile(r.PathValue("id"))
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteInvoice deletes an invoice
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteInvoice(r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "Invoice not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error deleting invoice", "id", r.PathValue("id"), "error", err)
		http.Error(w, "Error deleting invoice", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
