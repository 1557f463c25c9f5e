package mongofiles

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Bucket binds a configured bucket handle to the staging area. It is the
// entry point for staging uploads and streaming downloads.
type Bucket struct {
	handle        *BucketHandle
	staging       *Staging
	newID         IDGenerator
	fileField     string
	maxFields     int
	maxFieldBytes int64
	logger        *zap.Logger
	metrics       *Metrics
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.handle.Name
}

// Handle returns the shared store handle behind the bucket.
func (b *Bucket) Handle() *BucketHandle {
	return b.handle
}

// StagedFile is an upload's file part written to the staging area.
type StagedFile struct {
	ID          string
	Path        string
	FieldName   string
	Filename    string
	ContentType string
	Size        int64
}

// FormFields holds the non-file parts of an upload.
type FormFields map[string]string

// Stage reads the multipart body of r. The file part is streamed to a temp
// file that is synced to disk before Stage returns; the other parts are
// collected as form fields. The returned Upload must be committed or
// discarded. On error no temp file is left behind.
func (b *Bucket) Stage(ctx context.Context, r *http.Request) (*Upload, error) {
	// The id is fixed before any of the body is read.
	id, err := b.newID()
	if err != nil {
		return nil, stagingError(err, "generating upload id")
	}

	upload, err := b.stage(ctx, id, r)
	if err != nil {
		b.metrics.observeStage(b.Name(), resultFailure, 0)
		b.logger.Debug("staging failed", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	b.metrics.observeStage(b.Name(), resultSuccess, upload.file.Size)
	b.logger.Debug("upload staged",
		zap.String("id", id),
		zap.String("filename", upload.file.Filename),
		zap.Int64("size", upload.file.Size),
		zap.Int("fields", len(upload.fields)))
	return upload, nil
}

func (b *Bucket) stage(ctx context.Context, id string, r *http.Request) (*Upload, error) {
	mr, err := multipartReader(ctx, r)
	if err != nil {
		return nil, badUpload(err, "reading upload")
	}

	var staged *StagedFile
	fail := func(err error) (*Upload, error) {
		if staged != nil {
			if rmErr := b.staging.Remove(staged.Path); rmErr != nil {
				b.logger.Warn("cannot remove staged file", zap.String("id", id), zap.Error(rmErr))
			}
		}
		return nil, err
	}

	fields := make(FormFields)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(badUpload(err, "reading multipart body"))
		}

		if part.FileName() == "" {
			err := b.readField(part, fields)
			part.Close()
			if err != nil {
				return fail(badUpload(err, "reading form field"))
			}
			continue
		}

		if b.fileField != "" && part.FormName() != b.fileField {
			_, err := io.Copy(io.Discard, part)
			part.Close()
			if err != nil {
				return fail(badUpload(err, "skipping file part"))
			}
			continue
		}
		if staged != nil {
			part.Close()
			return fail(badUpload(errors.NotValidf("second file part %q", part.FormName()), "reading multipart body"))
		}

		body := &partReader{r: part}
		path, size, err := b.staging.Write(id, body)
		part.Close()
		if err != nil {
			if body.err != nil {
				return fail(badUpload(err, "staging file part"))
			}
			return fail(stagingError(err, "staging file part"))
		}
		staged = &StagedFile{
			ID:          id,
			Path:        path,
			FieldName:   part.FormName(),
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Size:        size,
		}
	}

	if staged == nil {
		return nil, badUpload(ErrNoFile, "reading multipart body")
	}
	return &Upload{bucket: b, file: *staged, fields: fields}, nil
}

// partReader remembers the error from reading the client's part, so a
// failed staging write can be told apart from a truncated body.
type partReader struct {
	r   io.Reader
	err error
}

func (p *partReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if err != nil && err != io.EOF {
		p.err = err
	}
	return n, err
}

func (b *Bucket) readField(part *multipart.Part, fields FormFields) error {
	name := part.FormName()
	if _, ok := fields[name]; !ok && len(fields) >= b.maxFields {
		return errors.NotValidf("more than %d form fields", b.maxFields)
	}
	value, err := io.ReadAll(io.LimitReader(part, b.maxFieldBytes+1))
	if err != nil {
		return errors.Trace(err)
	}
	if int64(len(value)) > b.maxFieldBytes {
		return errors.NotValidf("form field %q larger than %d bytes", name, b.maxFieldBytes)
	}
	fields[name] = string(value)
	return nil
}

// multipartReader builds a reader over the request body that stops once
// ctx is done, which is how client aborts surface mid-part.
func multipartReader(ctx context.Context, r *http.Request) (*multipart.Reader, error) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return nil, errors.NotValidf("missing content type")
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, errors.NotValidf("content type %q", contentType)
	}
	if mediaType != "multipart/form-data" && mediaType != "multipart/mixed" {
		return nil, errors.NotValidf("content type %q", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, errors.NotValidf("multipart body without boundary")
	}
	if r.Body == nil {
		return nil, errors.NotValidf("empty request body")
	}
	return multipart.NewReader(contextReader(ctx, r.Body), boundary), nil
}
