package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/Lllllllleong/documentcapture/internal/models"
	"github.com/Lllllllleong/documentcapture/internal/services"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.UploadListResponse{
		Uploads:      s.registry.Records(),
		Processing:   s.registry.Processing(),
		PendingCount: s.registry.PendingCount(),
	})
}

// handleIntake accepts any number of "files" parts.
func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseForm(w, r)
	if !ok {
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		badRequest(w, `no files in field "files"`)
		return
	}

	uploads := make([]models.UploadFile, 0, len(headers))
	for _, fh := range headers {
		file, err := readPart(fh, fh.Filename)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		uploads = append(uploads, file)
	}
	created := s.registry.Intake(uploads...)
	slog.Info("Accepted uploads.", "count", len(created))
	writeJSON(w, http.StatusCreated, models.IntakeResponse{Uploads: created})
}

// handleCapture accepts a single camera capture in the "file" part.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	form, ok := s.parseForm(w, r)
	if !ok {
		return
	}
	headers := form.File["file"]
	if len(headers) != 1 {
		badRequest(w, `expected exactly one file in field "file"`)
		return
	}
	fh := headers[0]
	name := fh.Filename
	if name == "" || name == "blob" {
		name = services.CaptureFilename(fh.Header.Get("Content-Type"), s.now())
	}
	file, err := readPart(fh, name)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	created := s.registry.Intake(file)
	writeJSON(w, http.StatusCreated, models.IntakeResponse{Uploads: created})
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		badRequest(w, fmt.Sprintf("could not parse upload: %v", err))
		return nil, false
	}
	return r.MultipartForm, true
}

func readPart(fh *multipart.FileHeader, name string) (models.UploadFile, error) {
	f, err := fh.Open()
	if err != nil {
		return models.UploadFile{}, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return models.UploadFile{}, fmt.Errorf("read %s: %w", name, err)
	}
	return services.NewUploadFile(name, fh.Header.Get("Content-Type"), data), nil
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	s.registry.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.registry.Clear(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	queued, err := s.registry.Start(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, models.ProcessResponse{Status: "processing", Queued: queued})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, services.ErrRecordNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// extracted returns the record only when it finished successfully.
func (s *Server) extracted(w http.ResponseWriter, r *http.Request) (models.UploadRecord, bool) {
	rec, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, services.ErrRecordNotFound)
		return models.UploadRecord{}, false
	}
	if rec.Status != models.StatusSuccess {
		writeError(w, services.ErrNotExtracted)
		return models.UploadRecord{}, false
	}
	return rec, true
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.extracted(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, rec.ExtractedContent.PlainText())
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.extracted(w, r)
	if !ok {
		return
	}
	data, err := s.exporter.ContentDocument(rec.ExtractedContent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeDownload(w, services.DocxMIMEType, services.DocumentFilename(rec.File.Name), data)
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.extracted(w, r)
	if !ok {
		return
	}
	data, err := s.exporter.TablesWorkbook(rec.ExtractedContent)
	if err != nil {
		writeError(w, err)
		return
	}
	name := services.DocumentFilename(rec.File.Name)
	writeDownload(w, services.XLSXMIMEType, name[:len(name)-len(".docx")]+".xlsx", data)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, services.ErrRecordNotFound)
		return
	}
	writeJSON(w, http.StatusOK, models.TranscriptResponse{
		History:     rec.ChatHistory,
		Suggestions: s.conversation.Suggestions(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "could not parse JSON body")
		return
	}
	res, err := s.conversation.Send(r.Context(), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ChatResponse{Reply: res.Reply, Failed: res.Failed})
}

func (s *Server) handleChatDocument(w http.ResponseWriter, r *http.Request) {
	var req models.ChatDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "could not parse JSON body")
		return
	}
	data, err := s.exporter.ChatReplyDocument(req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeDownload(w, services.DocxMIMEType, services.ChatReplyFilename, data)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.exporter.Archive(r.Context(), s.registry.Records())
	if err != nil {
		writeError(w, err)
		return
	}
	writeDownload(w, "application/zip", "documents.zip", data)
}
