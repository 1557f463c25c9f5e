package mongofiles

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"
)

// DefaultMaxDocumentSize is the largest payload the document strategy
// accepts. It leaves headroom under the 16 MiB MongoDB document limit for
// the other record fields.
const DefaultMaxDocumentSize = 15 << 20

// fileDoc is the stored record shape. Field names are part of the on-disk
// schema shared with other tooling and must not change.
type fileDoc struct {
	Id          string            `bson:"_id"`
	Length      int64             `bson:"length"`
	UploadDate  time.Time         `bson:"uploadDate"`
	Filename    string            `bson:"filename"`
	ContentType string            `bson:"contentType"`
	Metadata    map[string]string `bson:"metadata"`
	Data        []byte            `bson:"data"`
}

// withoutData is the projection used when only the record header is needed.
var withoutData = bson.M{"data": 0}

// DocumentStrategy stores each file as one document in a collection, with
// the content inline. The whole file is read into memory on commit and on
// download, so it only suits files well under the document size limit.
type DocumentStrategy struct {
	coll    Collection
	clock   clock.Clock
	maxSize int64
}

// NewDocumentStrategy returns a single-document strategy over coll. A
// maxSize of zero uses DefaultMaxDocumentSize.
func NewDocumentStrategy(coll Collection, clk clock.Clock, maxSize int64) *DocumentStrategy {
	if clk == nil {
		clk = clock.WallClock
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxDocumentSize
	}
	return &DocumentStrategy{coll: coll, clock: clk, maxSize: maxSize}
}

// Kind implements Strategy.
func (s *DocumentStrategy) Kind() StrategyKind {
	return KindDocument
}

// Commit implements Strategy.
func (s *DocumentStrategy) Commit(ctx context.Context, content io.Reader, info FileInfo) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Trace(err)
	}
	if info.Size > s.maxSize {
		return "", errors.NotValidf("file %q of %d bytes exceeds document limit of %d bytes", info.ID, info.Size, s.maxSize)
	}

	data, err := io.ReadAll(io.LimitReader(contextReader(ctx, content), s.maxSize+1))
	if err != nil {
		return "", errors.Annotatef(err, "reading content of file %q", info.ID)
	}
	if int64(len(data)) > s.maxSize {
		return "", errors.NotValidf("file %q exceeds document limit of %d bytes", info.ID, s.maxSize)
	}

	doc := fileDoc{
		Id:          info.ID,
		Length:      int64(len(data)),
		UploadDate:  s.clock.Now().UTC(),
		Filename:    info.Filename,
		ContentType: info.ContentType,
		Metadata:    info.Metadata,
		Data:        data,
	}
	if err := s.coll.Insert(&doc); err != nil {
		if mgo.IsDup(err) {
			return "", errors.AlreadyExistsf("file %q", info.ID)
		}
		return "", errors.Annotatef(err, "inserting file %q", info.ID)
	}
	return info.ID, nil
}

// Find implements Strategy. The inline payload is not loaded.
func (s *DocumentStrategy) Find(ctx context.Context, id string) (*FileRecord, error) {
	doc, err := s.load(ctx, id, withoutData)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &FileRecord{
		ID:          doc.Id,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		Length:      doc.Length,
		UploadDate:  doc.UploadDate,
		Metadata:    doc.Metadata,
	}, nil
}

// OpenDownloadStream implements Strategy by wrapping the inline payload in
// a reader.
func (s *DocumentStrategy) OpenDownloadStream(ctx context.Context, id string) (io.ReadCloser, error) {
	doc, err := s.load(ctx, id, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return io.NopCloser(bytes.NewReader(doc.Data)), nil
}

// Delete implements Strategy.
func (s *DocumentStrategy) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	if err := s.coll.RemoveId(id); err != nil {
		if err == mgo.ErrNotFound {
			return errors.NotFoundf("file %q", id)
		}
		return errors.Annotatef(err, "removing file %q", id)
	}
	return nil
}

func (s *DocumentStrategy) load(ctx context.Context, id string, fields bson.M) (*fileDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	var doc fileDoc
	err := s.coll.FindId(id, fields, &doc)
	if err == mgo.ErrNotFound {
		return nil, errors.NotFoundf("file %q", id)
	} else if err != nil {
		return nil, errors.Annotatef(err, "finding file %q", id)
	}
	return &doc, nil
}
