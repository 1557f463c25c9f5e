package mongofiles

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const defaultContentType = "application/octet-stream"

// Upload is a staged upload waiting to be committed. It is single use:
// after Commit or Discard it holds no temp file.
type Upload struct {
	bucket *Bucket
	file   StagedFile
	fields FormFields

	mu       sync.Mutex
	consumed bool
}

// CommitOptions overrides the values recorded with a committed file.
type CommitOptions struct {
	// Filename replaces the filename declared by the client.
	Filename string
	// Metadata, if non-nil, replaces the form fields as the stored metadata.
	Metadata map[string]string
}

// ID returns the upload identifier.
func (u *Upload) ID() string {
	return u.file.ID
}

// File returns the staged file.
func (u *Upload) File() StagedFile {
	return u.file
}

// Fields returns a copy of the form fields sent with the file.
func (u *Upload) Fields() FormFields {
	fields := make(FormFields, len(u.fields))
	for k, v := range u.fields {
		fields[k] = v
	}
	return fields
}

func (u *Upload) consume() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.consumed {
		return ErrUploadConsumed
	}
	u.consumed = true
	return nil
}

// Commit stores the staged file in the bucket and returns its identifier.
// The temp file is removed whether or not the store write succeeds.
func (u *Upload) Commit(ctx context.Context, opts CommitOptions) (string, error) {
	if err := u.consume(); err != nil {
		return "", errors.Trace(err)
	}
	b := u.bucket
	kind := b.handle.Kind

	id, err := u.commit(ctx, opts)
	if rmErr := b.staging.Remove(u.file.Path); rmErr != nil {
		if err != nil {
			err = multierror.Append(err, rmErr)
		} else {
			b.logger.Warn("cannot remove staged file", zap.String("id", u.file.ID), zap.Error(rmErr))
		}
	}
	if err != nil {
		b.metrics.observeCommit(b.Name(), kind, resultFailure)
		b.logger.Error("commit failed", zap.String("id", u.file.ID), zap.Error(err))
		return "", err
	}

	b.metrics.observeCommit(b.Name(), kind, resultSuccess)
	b.logger.Info("file committed",
		zap.String("id", id),
		zap.String("strategy", string(kind)),
		zap.Int64("size", u.file.Size))
	return id, nil
}

func (u *Upload) commit(ctx context.Context, opts CommitOptions) (string, error) {
	info := FileInfo{
		ID:          u.file.ID,
		Filename:    u.file.Filename,
		ContentType: u.file.ContentType,
		Size:        u.file.Size,
		Metadata:    u.Fields(),
	}
	if opts.Filename != "" {
		info.Filename = opts.Filename
	}
	if opts.Metadata != nil {
		info.Metadata = opts.Metadata
	}
	if info.ContentType == "" {
		info.ContentType = defaultContentType
	}

	f, err := u.bucket.staging.Open(u.file.Path)
	if err != nil {
		return "", commitError(err, "committing upload")
	}
	defer f.Close()

	id, err := u.bucket.handle.Strategy.Commit(ctx, f, info)
	if err != nil {
		return "", commitError(err, "committing upload")
	}
	return id, nil
}

// Discard abandons the upload and removes its temp file.
func (u *Upload) Discard() error {
	if err := u.consume(); err != nil {
		return errors.Trace(err)
	}
	u.bucket.logger.Debug("upload discarded", zap.String("id", u.file.ID))
	return errors.Trace(u.bucket.staging.Remove(u.file.Path))
}
