package handlers

import (
	"context"
	"log"
	"mime/multipart"
	"net/http"

	"github.com/AnshRaj112/studycrew-backend/internal/models"
)

const (
	maxUploadSize       = 10 << 20 // 10MB
	defaultUploadFolder = "studycrew/chat"
)

// Uploader stores an attachment and returns the metadata a client passes
// back in sendMessage.
type Uploader interface {
	UploadAttachment(ctx context.Context, fileHeader *multipart.FileHeader, folder string) (models.FileMeta, error)
}

type UploadResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	URL             string `json:"url,omitempty"`
	FileURL         string `json:"fileUrl,omitempty"`
	FileDownloadURL string `json:"fileDownloadUrl,omitempty"`
	FileName        string `json:"fileName,omitempty"`
	FileSize        int64  `json:"fileSize,omitempty"`
	FileMime        string `json:"fileMime,omitempty"`
}

// UploadFile handles POST /api/chat/upload with a multipart "file" field.
func (h *ChatHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(w, r); !ok {
		return
	}
	if h.uploader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Message: "File uploads are not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "Failed to parse form: " + err.Error()})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "No file provided"})
		return
	}
	file.Close()

	if fileHeader.Size > maxUploadSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Message: "File exceeds the 10MB limit"})
		return
	}

	meta, err := h.uploader.UploadAttachment(r.Context(), fileHeader, defaultUploadFolder)
	if err != nil {
		log.Printf("upload: %v", err)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Message: "Failed to upload file"})
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Success:         true,
		Message:         "File uploaded successfully",
		URL:             meta.URL,
		FileURL:         meta.URL,
		FileDownloadURL: meta.DownloadURL,
		FileName:        meta.Name,
		FileSize:        meta.Size,
		FileMime:        meta.Mime,
	})
}
