package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/randilt/mongofiles"
)

// FilesHandler serves uploads, downloads and deletes for the configured
// buckets.
type FilesHandler struct {
	buckets   map[string]*mongofiles.Bucket
	downloads map[string]http.Handler
	logger    *zap.Logger
}

func NewFilesHandler(buckets []*mongofiles.Bucket, logger *zap.Logger) *FilesHandler {
	h := &FilesHandler{
		buckets:   make(map[string]*mongofiles.Bucket, len(buckets)),
		downloads: make(map[string]http.Handler, len(buckets)),
		logger:    logger,
	}
	for _, b := range buckets {
		h.buckets[b.Name()] = b
		h.downloads[b.Name()] = b.DownloadHandlerWithErrors(func(w http.ResponseWriter, r *http.Request, err error) {
			h.writeError(w, err)
		})
	}
	return h
}

// Register adds the handler routes to r.
func (h *FilesHandler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/buckets/{bucket}/files", h.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/buckets/{bucket}/files", h.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/buckets/{bucket}/files/{id}", h.handleDelete).Methods(http.MethodDelete)
}

func (h *FilesHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// UploadResponse is returned for a committed upload.
type UploadResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func (h *FilesHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	bucket, ok := h.bucket(w, r)
	if !ok {
		return
	}

	upload, err := bucket.Stage(r.Context(), r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	file := upload.File()
	opts := mongofiles.CommitOptions{Filename: r.URL.Query().Get("filename")}
	id, err := upload.Commit(r.Context(), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}

	filename := file.Filename
	if opts.Filename != "" {
		filename = opts.Filename
	}
	h.writeJSON(w, http.StatusCreated, UploadResponse{
		ID:       id,
		Filename: filename,
		Size:     file.Size,
	})
}

func (h *FilesHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	bucket, ok := h.bucket(w, r)
	if !ok {
		return
	}
	h.downloads[bucket.Name()].ServeHTTP(w, r)
}

func (h *FilesHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	bucket, ok := h.bucket(w, r)
	if !ok {
		return
	}

	if err := bucket.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FilesHandler) bucket(w http.ResponseWriter, r *http.Request) (*mongofiles.Bucket, bool) {
	name := mux.Vars(r)["bucket"]
	bucket, ok := h.buckets[name]
	if !ok {
		h.writeError(w, errors.NotFoundf("bucket %q", name))
	}
	return bucket, ok
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *FilesHandler) writeError(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		h.writeJSON(w, status, ErrorResponse{Code: code, Message: "internal error"})
		return
	}
	h.writeJSON(w, status, ErrorResponse{Code: code, Message: err.Error()})
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, mongofiles.StagingError) && !errors.Is(err, mongofiles.ErrBadUpload):
		// Writing the temp file failed on our side.
		return http.StatusInternalServerError, "InternalError"
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, errors.AlreadyExists):
		return http.StatusConflict, "AlreadyExists"
	case errors.Is(err, errors.NotValid), errors.Is(err, mongofiles.ErrBadUpload):
		return http.StatusBadRequest, "BadRequest"
	}
	return http.StatusInternalServerError, "InternalError"
}

func (h *FilesHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("cannot write response", zap.Error(err))
	}
}
