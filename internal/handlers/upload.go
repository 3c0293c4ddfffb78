package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aaaashutosh/medicate-connect/internal/metrics"
	"github.com/aaaashutosh/medicate-connect/internal/models"
)

// maxUploadSize caps message file uploads at 10MB.
const maxUploadSize = 10 << 20

// allowedExtensions mirrors the file types a message may carry: images,
// documents, and audio/video.
var allowedExtensions = map[string]bool{
	".jpeg": true, ".jpg": true, ".png": true, ".gif": true,
	".pdf": true, ".doc": true, ".docx": true, ".xlsx": true, ".txt": true,
	".mp3": true, ".mp4": true, ".mov": true, ".avi": true, ".webm": true,
}

// UploadResponse is returned to the client, which then emits a message
// event carrying the URL with messageType derived from the MIME type.
type UploadResponse struct {
	FileURL      string `json:"fileUrl"`
	FileName     string `json:"fileName"`
	FileMimeType string `json:"fileMimeType"`
	MessageType  string `json:"messageType"`
}

// UploadMessageFile handles POST /api/upload/message-file (multipart).
// The realtime core treats the result as an opaque URL producer.
func (h *Handler) UploadMessageFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.Error(w, http.StatusRequestEntityTooLarge, "file too large (max 10MB)")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.Error(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		h.Error(w, http.StatusUnsupportedMediaType, "file type not supported; allowed: images, documents, audio/video")
		return
	}

	name, err := randomFilename(ext)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "file upload failed")
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		h.Error(w, http.StatusInternalServerError, "file upload failed")
		return
	}

	dst, err := os.Create(filepath.Join(h.uploadDir, name))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "file upload failed")
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		h.logger.Error().Err(err).Msg("upload write failed")
		h.Error(w, http.StatusInternalServerError, "file upload failed")
		return
	}

	mime := header.Header.Get("Content-Type")
	msgType := models.MessageTypeForMime(mime)
	metrics.FilesUploaded.WithLabelValues(string(msgType)).Inc()

	h.JSON(w, http.StatusOK, UploadResponse{
		FileURL:      "/uploads/" + name,
		FileName:     header.Filename,
		FileMimeType: mime,
		MessageType:  string(msgType),
	})
}

func randomFilename(ext string) (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]) + ext, nil
}
