package mongofiles

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"
)

// fakeDB is an in-memory Database. Documents and GridFS metadata go
// through bson so the stored shape is what mgo would send.
type fakeDB struct {
	mu          sync.Mutex
	gridfs      map[string]*fakeGridFS
	colls       map[string]*fakeCollection
	gridfsCalls int
	collCalls   int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		gridfs: make(map[string]*fakeGridFS),
		colls:  make(map[string]*fakeCollection),
	}
}

func (d *fakeDB) GridFS(prefix string) GridFS {
	return d.fakeGridFS(prefix)
}

func (d *fakeDB) C(name string) Collection {
	return d.fakeCollection(name)
}

func (d *fakeDB) fakeGridFS(prefix string) *fakeGridFS {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gridfsCalls++
	gfs, ok := d.gridfs[prefix]
	if !ok {
		gfs = &fakeGridFS{files: make(map[string]*storedGridFile)}
		d.gridfs[prefix] = gfs
	}
	return gfs
}

func (d *fakeDB) fakeCollection(name string) *fakeCollection {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.collCalls++
	c, ok := d.colls[name]
	if !ok {
		c = &fakeCollection{docs: make(map[string][]byte)}
		d.colls[name] = c
	}
	return c
}

type storedGridFile struct {
	name        string
	contentType string
	meta        []byte
	chunkSize   int
	uploadDate  time.Time
	data        []byte
}

type fakeGridFS struct {
	mu    sync.Mutex
	files map[string]*storedGridFile
	// closeErr, if set, fails every write at Close.
	closeErr error
}

func (g *fakeGridFS) Create(name string) (GridWriter, error) {
	return &fakeGridFile{gfs: g, stored: storedGridFile{name: name}}, nil
}

func (g *fakeGridFS) OpenId(id interface{}) (GridReader, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.files[fmt.Sprint(id)]
	if !ok {
		return nil, mgo.ErrNotFound
	}
	return &fakeGridFile{
		gfs:    g,
		id:     id,
		stored: *f,
		reader: bytes.NewReader(f.data),
	}, nil
}

func (g *fakeGridFS) RemoveId(id interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := fmt.Sprint(id)
	if _, ok := g.files[key]; !ok {
		return mgo.ErrNotFound
	}
	delete(g.files, key)
	return nil
}

func (g *fakeGridFS) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.files)
}

type fakeGridFile struct {
	gfs     *fakeGridFS
	id      interface{}
	stored  storedGridFile
	buf     bytes.Buffer
	reader  *bytes.Reader
	aborted bool
	closed  bool
}

func (f *fakeGridFile) Write(p []byte) (int, error) {
	return f.buf.Write(p)
}

func (f *fakeGridFile) SetId(id interface{}) { f.id = id }
func (f *fakeGridFile) SetContentType(ctype string) { f.stored.contentType = ctype }
func (f *fakeGridFile) SetChunkSize(bytes int) { f.stored.chunkSize = bytes }
func (f *fakeGridFile) Abort() { f.aborted = true }
func (f *fakeGridFile) Id() interface{} { return f.id }
func (f *fakeGridFile) Name() string { return f.stored.name }
func (f *fakeGridFile) ContentType() string { return f.stored.contentType }
func (f *fakeGridFile) Size() int64 { return int64(len(f.stored.data)) }
func (f *fakeGridFile) UploadDate() time.Time { return f.stored.uploadDate }
func (f *fakeGridFile) Read(p []byte) (int, error) { return f.reader.Read(p) }
func (f *fakeGridFile) SetMeta(metadata interface{}) {
	data, err := bson.Marshal(metadata)
	if err != nil {
		panic(err)
	}
	f.stored.meta = data
}

func (f *fakeGridFile) GetMeta(result interface{}) error {
	if f.stored.meta == nil {
		return nil
	}
	return bson.Unmarshal(f.stored.meta, result)
}

func (f *fakeGridFile) Close() error {
	if f.reader != nil || f.closed {
		return nil
	}
	f.closed = true

	f.gfs.mu.Lock()
	defer f.gfs.mu.Unlock()
	key := fmt.Sprint(f.id)
	existing, dup := f.gfs.files[key]
	if f.aborted || dup {
		// mgo removes the chunks of every file with the id when a write is
		// aborted or its files document insert fails.
		if dup {
			existing.data = nil
		}
		if f.aborted {
			return errors.New("write aborted")
		}
		return &mgo.LastError{Code: 11000, Err: "E11000 duplicate key error"}
	}
	if f.gfs.closeErr != nil {
		return f.gfs.closeErr
	}
	stored := f.stored
	stored.data = append([]byte(nil), f.buf.Bytes()...)
	stored.uploadDate = time.Now().UTC().Truncate(time.Millisecond)
	f.gfs.files[key] = &stored
	return nil
}

type fakeCollection struct {
	mu   sync.Mutex
	docs map[string][]byte
	// insertErr, if set, fails every insert.
	insertErr error
}

func (c *fakeCollection) Insert(docs ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.insertErr != nil {
		return c.insertErr
	}
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

func (c *fakeCollection) FindId(id interface{}, fields bson.M, result interface{}) error {
	c.mu.Lock()
	data, ok := c.docs[fmt.Sprint(id)]
	c.mu.Unlock()
	if !ok {
		return mgo.ErrNotFound
	}
	if fields != nil {
		var m bson.M
		if err := bson.Unmarshal(data, &m); err != nil {
			return err
		}
		for name, include := range fields {
			if include == 0 {
				delete(m, name)
			}
		}
		var err error
		if data, err = bson.Marshal(m); err != nil {
			return err
		}
	}
	return bson.Unmarshal(data, result)
}

func (c *fakeCollection) RemoveId(id interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := fmt.Sprint(id)
	if _, ok := c.docs[key]; !ok {
		return mgo.ErrNotFound
	}
	delete(c.docs, key)
	return nil
}

// raw returns the stored document for id as a bson.M.
func (c *fakeCollection) raw(id string) (bson.M, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.docs[id]
	if !ok {
		return nil, false
	}
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		panic(err)
	}
	return m, true
}

// failingReader returns data and then err.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}
