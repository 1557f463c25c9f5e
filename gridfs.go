package mongofiles

import (
	"context"
	"io"

	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
)

// GridFSStrategy stores files in a GridFS bucket. Content is streamed in
// chunks and never held fully in memory.
type GridFSStrategy struct {
	gfs       GridFS
	chunkSize int
}

// NewGridFSStrategy returns a chunked strategy over gfs. A chunkSize of
// zero keeps the GridFS default.
func NewGridFSStrategy(gfs GridFS, chunkSize int) *GridFSStrategy {
	return &GridFSStrategy{gfs: gfs, chunkSize: chunkSize}
}

// Kind implements Strategy.
func (s *GridFSStrategy) Kind() StrategyKind {
	return KindChunked
}

// Commit implements Strategy. The identifier is returned only after the
// GridFS file has been closed, which is when the last chunk and the file
// document are written.
func (s *GridFSStrategy) Commit(ctx context.Context, content io.Reader, info FileInfo) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Trace(err)
	}

	// A failed GridFS write removes every chunk stored under its id, so a
	// reused id must be refused before anything is written.
	existing, err := s.gfs.OpenId(info.ID)
	switch {
	case err == nil:
		existing.Close()
		return "", errors.AlreadyExistsf("file %q", info.ID)
	case err != mgo.ErrNotFound:
		return "", errors.Annotatef(err, "checking GridFS file %q", info.ID)
	}

	file, err := s.gfs.Create(info.Filename)
	if err != nil {
		return "", errors.Annotatef(err, "creating GridFS file %q", info.ID)
	}
	file.SetId(info.ID)
	file.SetContentType(info.ContentType)
	if info.Metadata != nil {
		file.SetMeta(info.Metadata)
	}
	if s.chunkSize > 0 {
		file.SetChunkSize(s.chunkSize)
	}

	if _, err := io.Copy(file, contextReader(ctx, content)); err != nil {
		// Abort makes Close discard the chunks written so far.
		file.Abort()
		_ = file.Close()
		return "", errors.Annotatef(err, "writing GridFS file %q", info.ID)
	}

	if err := file.Close(); err != nil {
		if mgo.IsDup(err) {
			return "", errors.AlreadyExistsf("file %q", info.ID)
		}
		return "", errors.Annotatef(err, "finishing GridFS file %q", info.ID)
	}
	return info.ID, nil
}

// Find implements Strategy.
func (s *GridFSStrategy) Find(ctx context.Context, id string) (*FileRecord, error) {
	file, err := s.open(ctx, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()

	var metadata map[string]string
	if err := file.GetMeta(&metadata); err != nil {
		return nil, errors.Annotatef(err, "reading metadata of file %q", id)
	}
	return &FileRecord{
		ID:          id,
		Filename:    file.Name(),
		ContentType: file.ContentType(),
		Length:      file.Size(),
		UploadDate:  file.UploadDate(),
		Metadata:    metadata,
	}, nil
}

// OpenDownloadStream implements Strategy.
func (s *GridFSStrategy) OpenDownloadStream(ctx context.Context, id string) (io.ReadCloser, error) {
	file, err := s.open(ctx, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return file, nil
}

// Delete implements Strategy.
func (s *GridFSStrategy) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	if err := s.gfs.RemoveId(id); err != nil {
		if err == mgo.ErrNotFound {
			return errors.NotFoundf("file %q", id)
		}
		return errors.Annotatef(err, "removing GridFS file %q", id)
	}
	return nil
}

func (s *GridFSStrategy) open(ctx context.Context, id string) (GridReader, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	file, err := s.gfs.OpenId(id)
	if err == mgo.ErrNotFound {
		return nil, errors.NotFoundf("file %q", id)
	} else if err != nil {
		return nil, errors.Annotatef(err, "opening GridFS file %q", id)
	}
	return file, nil
}
