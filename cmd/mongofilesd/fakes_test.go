package main

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	"github.com/randilt/mongofiles"
)

// memDB is an in-memory mongofiles.Database for exercising the daemon
// without a MongoDB server.
type memDB struct {
	mu     sync.Mutex
	gridfs map[string]*memGridFS
	colls  map[string]*memCollection
}

func newMemDB() *memDB {
	return &memDB{
		gridfs: make(map[string]*memGridFS),
		colls:  make(map[string]*memCollection),
	}
}

func (d *memDB) GridFS(prefix string) mongofiles.GridFS {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.gridfs[prefix]
	if !ok {
		g = &memGridFS{files: make(map[string]*memGridFile)}
		d.gridfs[prefix] = g
	}
	return g
}

func (d *memDB) C(name string) mongofiles.Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.colls[name]
	if !ok {
		c = &memCollection{docs: make(map[string][]byte)}
		d.colls[name] = c
	}
	return c
}

type memGridFS struct {
	mu    sync.Mutex
	files map[string]*memGridFile
}

func (g *memGridFS) Create(name string) (mongofiles.GridWriter, error) {
	return &memGridFile{gfs: g, name: name}, nil
}

func (g *memGridFS) OpenId(id interface{}) (mongofiles.GridReader, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.files[fmt.Sprint(id)]
	if !ok {
		return nil, mgo.ErrNotFound
	}
	open := *f
	open.reader = bytes.NewReader(f.data)
	return &open, nil
}

func (g *memGridFS) RemoveId(id interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := fmt.Sprint(id)
	if _, ok := g.files[key]; !ok {
		return mgo.ErrNotFound
	}
	delete(g.files, key)
	return nil
}

type memGridFile struct {
	gfs         *memGridFS
	id          interface{}
	name        string
	contentType string
	meta        []byte
	uploadDate  time.Time
	data        []byte
	buf         bytes.Buffer
	reader      *bytes.Reader
	aborted     bool
}

func (f *memGridFile) Write(p []byte) (int, error) { return f.buf.Write(p) }
func (f *memGridFile) Read(p []byte) (int, error) { return f.reader.Read(p) }
func (f *memGridFile) SetId(id interface{}) { f.id = id }
func (f *memGridFile) SetContentType(ctype string) { f.contentType = ctype }
func (f *memGridFile) SetChunkSize(int) {}
func (f *memGridFile) Abort() { f.aborted = true }
func (f *memGridFile) Id() interface{} { return f.id }
func (f *memGridFile) Name() string { return f.name }
func (f *memGridFile) ContentType() string { return f.contentType }
func (f *memGridFile) Size() int64 { return int64(len(f.data)) }
func (f *memGridFile) UploadDate() time.Time { return f.uploadDate }
func (f *memGridFile) SetMeta(metadata interface{}) { f.meta, _ = bson.Marshal(metadata) }

func (f *memGridFile) GetMeta(result interface{}) error {
	if f.meta == nil {
		return nil
	}
	return bson.Unmarshal(f.meta, result)
}

func (f *memGridFile) Close() error {
	if f.reader != nil {
		return nil
	}
	f.gfs.mu.Lock()
	defer f.gfs.mu.Unlock()
	key := fmt.Sprint(f.id)
	existing, dup := f.gfs.files[key]
	if dup {
		// As in mgo, a failed write drops every chunk under its id.
		existing.data = nil
	}
	if f.aborted {
		return fmt.Errorf("write aborted")
	}
	if dup {
		return &mgo.LastError{Code: 11000, Err: "E11000 duplicate key error"}
	}
	stored := &memGridFile{
		id:          f.id,
		name:        f.name,
		contentType: f.contentType,
		meta:        f.meta,
		uploadDate:  time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		data:        append([]byte(nil), f.buf.Bytes()...),
	}
	f.gfs.files[key] = stored
	return nil
}

type memCollection struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func (c *memCollection) Insert(docs ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, doc := range docs {
		data, err := bson.Marshal(doc)
		if err != nil {
			return err
		}
		var m bson.M
		if err := bson.Unmarshal(data, &m); err != nil {
			return err
		}
		key := fmt.Sprint(m["_id"])
		if _, ok := c.docs[key]; ok {
			return &mgo.LastError{Code: 11000, Err: "E11000 duplicate key error"}
		}
		c.docs[key] = data
	}
	return nil
}

// FindId ignores the projection; the strategy tolerates extra fields.
func (c *memCollection) FindId(id interface{}, _ bson.M, result interface{}) error {
	c.mu.Lock()
	data, ok := c.docs[fmt.Sprint(id)]
	c.mu.Unlock()
	if !ok {
		return mgo.ErrNotFound
	}
	return bson.Unmarshal(data, result)
}

func (c *memCollection) RemoveId(id interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := fmt.Sprint(id)
	if _, ok := c.docs[key]; !ok {
		return mgo.ErrNotFound
	}
	delete(c.docs, key)
	return nil
}
