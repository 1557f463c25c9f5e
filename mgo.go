package mongofiles

import (
	"io"
	"time"

	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"
)

// Database is the document store a bucket is created against. It is the
// subset of *mgo.Database the strategies use.
type Database interface {
	// GridFS returns the GridFS bucket with the given prefix.
	GridFS(prefix string) GridFS
	// C returns the named collection.
	C(name string) Collection
}

// GridFS is the subset of *mgo.GridFS the chunked strategy uses.
type GridFS interface {
	Create(name string) (GridWriter, error)
	OpenId(id interface{}) (GridReader, error)
	RemoveId(id interface{}) error
}

// GridWriter is a GridFS file opened for writing. The write is finished
// only when Close returns nil.
type GridWriter interface {
	io.Writer
	SetId(id interface{})
	SetContentType(ctype string)
	SetMeta(metadata interface{})
	SetChunkSize(bytes int)
	Abort()
	Close() error
}

// GridReader is a GridFS file opened for reading.
type GridReader interface {
	io.ReadCloser
	Id() interface{}
	Name() string
	ContentType() string
	Size() int64
	UploadDate() time.Time
	GetMeta(result interface{}) error
}

// Collection is the subset of *mgo.Collection the document strategy uses.
type Collection interface {
	Insert(docs ...interface{}) error
	// FindId loads the document with the given _id into result. A non-nil
	// fields projection limits which fields are loaded.
	FindId(id interface{}, fields bson.M, result interface{}) error
	RemoveId(id interface{}) error
}

// NewMgoDatabase adapts an mgo database to Database.
func NewMgoDatabase(db *mgo.Database) Database {
	return mgoDatabase{db: db}
}

type mgoDatabase struct {
	db *mgo.Database
}

func (d mgoDatabase) GridFS(prefix string) GridFS {
	return mgoGridFS{gfs: d.db.GridFS(prefix)}
}

func (d mgoDatabase) C(name string) Collection {
	return mgoCollection{c: d.db.C(name)}
}

type mgoGridFS struct {
	gfs *mgo.GridFS
}

func (g mgoGridFS) Create(name string) (GridWriter, error) {
	f, err := g.gfs.Create(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (g mgoGridFS) OpenId(id interface{}) (GridReader, error) {
	f, err := g.gfs.OpenId(id)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (g mgoGridFS) RemoveId(id interface{}) error {
	return g.gfs.RemoveId(id)
}

type mgoCollection struct {
	c *mgo.Collection
}

func (c mgoCollection) Insert(docs ...interface{}) error {
	return c.c.Insert(docs...)
}

func (c mgoCollection) FindId(id interface{}, fields bson.M, result interface{}) error {
	q := c.c.FindId(id)
	if fields != nil {
		q = q.Select(fields)
	}
	return q.One(result)
}

func (c mgoCollection) RemoveId(id interface{}) error {
	return c.c.RemoveId(id)
}
