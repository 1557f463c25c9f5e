package mongofiles

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/afero"
)

// DefaultStagingDirName is the directory created under the platform temp
// root to hold in-flight uploads.
const DefaultStagingDirName = "mongo-files-uploads"

// DefaultStagingDir returns the process-wide staging directory.
func DefaultStagingDir() string {
	return filepath.Join(os.TempDir(), DefaultStagingDirName)
}

// Staging is the temp staging area: one file per in-flight upload, named
// after the upload identifier.
type Staging struct {
	fs  afero.Fs
	dir string
}

// NewStaging returns a staging area rooted at dir on fs, creating the
// directory if it does not exist.
func NewStaging(fs afero.Fs, dir string) (*Staging, error) {
	if fs == nil {
		return nil, configErrorf("staging filesystem not provided")
	}
	if dir == "" {
		return nil, configErrorf("staging directory not provided")
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, errors.WithType(errors.Annotatef(err, "creating staging directory %q", dir), ConfigurationError)
	}
	return &Staging{fs: fs, dir: dir}, nil
}

// Dir returns the staging directory.
func (s *Staging) Dir() string {
	return s.dir
}

// Path validation to prevent directory traversal through an identifier.
func (s *Staging) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "/\\\x00") || id == "." || id == ".." {
		return "", errors.NotValidf("upload identifier %q", id)
	}
	resolved := filepath.Join(s.dir, id)
	if filepath.Dir(resolved) != filepath.Clean(s.dir) {
		return "", errors.NotValidf("upload identifier %q", id)
	}
	return resolved, nil
}

// Write streams r into a new temp file keyed by id. It returns only after
// the file has been synced and closed. On any failure the partial file is
// removed.
func (s *Staging) Write(id string, r io.Reader) (string, int64, error) {
	path, err := s.path(id)
	if err != nil {
		return "", 0, errors.Trace(err)
	}

	// O_EXCL keeps one staged file per identifier.
	tempFile, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return "", 0, errors.AlreadyExistsf("staged file for upload %q", id)
		}
		return "", 0, errors.Annotatef(err, "creating temp file for upload %q", id)
	}

	size, err := io.Copy(tempFile, r)
	if err != nil {
		tempFile.Close()
		s.fs.Remove(path)
		return "", 0, errors.Annotatef(err, "writing temp file for upload %q", id)
	}

	// Flush data to disk before reporting the part as done
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		s.fs.Remove(path)
		return "", 0, errors.Annotatef(err, "syncing temp file for upload %q", id)
	}

	if err := tempFile.Close(); err != nil {
		s.fs.Remove(path)
		return "", 0, errors.Annotatef(err, "closing temp file for upload %q", id)
	}

	return path, size, nil
}

// Open opens a staged file for reading.
func (s *Staging) Open(path string) (afero.File, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, errors.Annotatef(err, "opening staged file %q", path)
	}
	return f, nil
}

// Remove deletes a staged file. Removing a file that is already gone is
// not an error.
func (s *Staging) Remove(path string) error {
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Annotatef(err, "removing staged file %q", path)
	}
	return nil
}

// Exists reports whether a staged file is present for id.
func (s *Staging) Exists(id string) bool {
	path, err := s.path(id)
	if err != nil {
		return false
	}
	ok, err := afero.Exists(s.fs, path)
	return err == nil && ok
}

// Sweep removes staged files last modified before cutoff. These are left
// behind by processes that died mid-upload. It returns the number of files
// removed.
func (s *Staging) Sweep(cutoff time.Time) (int, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0, errors.Annotatef(err, "reading staging directory %q", s.dir)
	}

	removed := 0
	for _, info := range entries {
		if info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := s.Remove(filepath.Join(s.dir, info.Name())); err != nil {
			return removed, errors.Trace(err)
		}
		removed++
	}
	return removed, nil
}
