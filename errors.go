package mongofiles

import "github.com/juju/errors"

const (
	// ConfigurationError is attached to errors raised while setting up a
	// bucket or the staging area.
	ConfigurationError = errors.ConstError("configuration error")

	// StagingError is attached to errors raised while reading an upload
	// into the staging area.
	StagingError = errors.ConstError("staging error")

	// CommitError is attached to errors raised while persisting a staged
	// file into a bucket.
	CommitError = errors.ConstError("commit error")

	// ErrBadUpload is attached to staging errors caused by the client: a
	// malformed or truncated body, a missing file part or an exceeded limit.
	// Staging errors without it are server-side failures.
	ErrBadUpload = errors.ConstError("bad upload")

	// ErrNoFile is returned when a multipart body carries no file part.
	ErrNoFile = errors.ConstError("no file part in upload")

	// ErrUploadConsumed is returned when an upload is committed or
	// discarded more than once.
	ErrUploadConsumed = errors.ConstError("upload already committed or discarded")

	// ErrDownloadInterrupted is attached to errors raised after a download
	// response has started.
	ErrDownloadInterrupted = errors.ConstError("download interrupted")
)

func configErrorf(format string, args ...interface{}) error {
	return errors.WithType(errors.Errorf(format, args...), ConfigurationError)
}

func stagingError(err error, message string) error {
	return errors.WithType(errors.Annotate(err, message), StagingError)
}

func badUpload(err error, message string) error {
	return errors.WithType(stagingError(err, message), ErrBadUpload)
}

func commitError(err error, message string) error {
	return errors.WithType(errors.Annotate(err, message), CommitError)
}
