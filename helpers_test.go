package mongofiles

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

type testEnv struct {
	fs       afero.Fs
	staging  *Staging
	db       *fakeDB
	registry *Registry
	clock    *testclock.Clock
}

func newTestEnv(t *testing.T, opts ...RegistryOption) *testEnv {
	t.Helper()
	fs := afero.NewMemMapFs()
	staging, err := NewStaging(fs, "/tmp/mongo-files-uploads")
	require.NoError(t, err)
	clk := testclock.NewClock(testNow)
	registry, err := NewRegistry(staging, append([]RegistryOption{WithClock(clk)}, opts...)...)
	require.NoError(t, err)
	return &testEnv{
		fs:       fs,
		staging:  staging,
		db:       newFakeDB(),
		registry: registry,
		clock:    clk,
	}
}

func (e *testEnv) bucket(t *testing.T, name string, kind StrategyKind) *Bucket {
	t.Helper()
	b, err := e.registry.Configure(BucketConfig{
		Database:    e.db,
		BucketName:  name,
		Kind:        kind,
		IDGenerator: sequentialIDs(name),
	})
	require.NoError(t, err)
	return b
}

func (e *testEnv) readStaged(t *testing.T, path string) []byte {
	t.Helper()
	data, err := afero.ReadFile(e.fs, path)
	require.NoError(t, err)
	return data
}

// sequentialIDs generates prefix-1, prefix-2, ...
func sequentialIDs(prefix string) IDGenerator {
	var n int64
	return func() (string, error) {
		return fmt.Sprintf("%s-%d", prefix, atomic.AddInt64(&n, 1)), nil
	}
}

type testFile struct {
	field       string
	filename    string
	contentType string
	content     []byte
}

// multipartBody encodes fields (in the given order, as name/value pairs)
// followed by files.
func multipartBody(t *testing.T, fields []string, files ...testFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for i := 0; i+1 < len(fields); i += 2 {
		require.NoError(t, w.WriteField(fields[i], fields[i+1]))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.filename))
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func uploadRequest(body io.Reader, contentType string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	return req
}

func helloFile() testFile {
	return testFile{
		field:       "file",
		filename:    "hello.txt",
		contentType: "text/plain",
		content:     []byte("hello12345"),
	}
}

func discardResponse() http.ResponseWriter {
	return httptest.NewRecorder()
}
