package mongofiles

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Stored content never changes under an identifier, so clients may cache
// it for a year.
const downloadCacheControl = "private, max-age=31536000"

// Find returns the stored record for id.
func (b *Bucket) Find(ctx context.Context, id string) (*FileRecord, error) {
	record, err := b.handle.Strategy.Find(ctx, id)
	return record, errors.Trace(err)
}

// Delete removes the stored record for id.
func (b *Bucket) Delete(ctx context.Context, id string) error {
	if err := b.handle.Strategy.Delete(ctx, id); err != nil {
		return errors.Trace(err)
	}
	b.logger.Info("file deleted", zap.String("id", id))
	return nil
}

// Download writes the file stored under id to w. Headers are written only
// once the record has been found and its content opened, so a NotFound or
// store error can still be turned into an error response by the caller.
// With attachment set the response asks the client to save the file.
func (b *Bucket) Download(ctx context.Context, w http.ResponseWriter, id string, attachment bool) error {
	record, err := b.handle.Strategy.Find(ctx, id)
	if err != nil {
		b.observeDownload(err)
		return errors.Trace(err)
	}
	stream, err := b.handle.Strategy.OpenDownloadStream(ctx, id)
	if err != nil {
		b.observeDownload(err)
		return errors.Trace(err)
	}
	defer stream.Close()

	contentType := record.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", contentDisposition(record.Filename, attachment))
	h.Set("Cache-Control", downloadCacheControl)
	h.Set("Content-Length", strconv.FormatInt(record.Length, 10))
	if !record.UploadDate.IsZero() {
		h.Set("Last-Modified", record.UploadDate.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, contextReader(ctx, stream)); err != nil {
		// The status line has gone out; all that is left is to report it.
		b.observeDownload(err)
		return errors.WithType(errors.Annotatef(err, "streaming file %q", id), ErrDownloadInterrupted)
	}
	b.observeDownload(nil)
	return nil
}

// DownloadErrorFunc writes the response for a download that failed before
// any of the file was sent.
type DownloadErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

// DownloadHandler serves downloads addressed by the "id" query parameter.
// A true "download" parameter serves the file as an attachment. Errors are
// written as plain text.
func (b *Bucket) DownloadHandler() http.Handler {
	return b.DownloadHandlerWithErrors(b.writeDownloadError)
}

// DownloadHandlerWithErrors is DownloadHandler with onError writing the
// error responses. A missing id is reported as NotValid. A download cut off
// after the headers went out is only logged.
func (b *Bucket) DownloadHandlerWithErrors(onError DownloadErrorFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		id := query.Get("id")
		if id == "" {
			onError(w, r, errors.NotValidf("missing id"))
			return
		}
		attachment, _ := strconv.ParseBool(query.Get("download"))

		err := b.Download(r.Context(), w, id, attachment)
		switch {
		case err == nil:
		case errors.Is(err, ErrDownloadInterrupted):
			b.logger.Warn("download interrupted", zap.String("id", id), zap.Error(err))
		default:
			onError(w, r, err)
		}
	})
}

func (b *Bucket) writeDownloadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errors.NotValid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, errors.NotFound):
		http.Error(w, "file not found", http.StatusNotFound)
	default:
		b.logger.Error("download failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func contentDisposition(filename string, attachment bool) string {
	if !attachment {
		return "inline"
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

func (b *Bucket) observeDownload(err error) {
	switch {
	case err == nil:
		b.metrics.observeDownload(b.Name(), resultSuccess)
	case errors.Is(err, errors.NotFound):
		b.metrics.observeDownload(b.Name(), resultNotFound)
	default:
		b.metrics.observeDownload(b.Name(), resultFailure)
	}
}
