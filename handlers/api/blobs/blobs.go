package blobs

import (
	"errors"
	"io"
	"net/http"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// HandleGetBlob serves a published document. Keys are never reused, so the
// response may be cached forever.
func HandleGetBlob(opener core.BlobOpener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		log := logrus.WithField("key", key)

		rc, contentType, err := opener.Open(r.Context(), key)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				http.Error(w, "Document not found", http.StatusNotFound)
				return
			}
			log.WithError(err).Error("Failed to open blob")
			http.Error(w, "Failed to open document", http.StatusBadRequest)
			return
		}
		defer rc.Close()

		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		if _, err := io.Copy(w, rc); err != nil {
			log.WithError(err).Warn("Failed to write blob")
		}
	}
}
