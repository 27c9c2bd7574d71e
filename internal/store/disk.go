package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/vismatch/internal/models"
)

// Paths locates the two store artifacts. They are always written and read together,
// and bound to each other by a manifest written next to the embeddings file.
type Paths struct {
	Embeddings string
	Products   string
}

// Manifest returns the path of the manifest that commits the pair.
func (p Paths) Manifest() string {
	return p.Embeddings + ".manifest.json"
}

// Files returns every file a saved store consists of, manifest last.
func (p Paths) Files() []string {
	return []string{p.Embeddings, p.Products, p.Manifest()}
}

// manifest records the exact bytes of a saved pair. Load refuses any pair whose files
// do not hash to the values recorded here.
type manifest struct {
	Rows             int       `json:"rows"`
	Dims             int       `json:"dims"`
	EmbeddingsSHA256 string    `json:"embeddings_sha256"`
	ProductsSHA256   string    `json:"products_sha256"`
	WrittenAt        time.Time `json:"written_at"`
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// rename is swapped in tests to inject install failures.
var rename = os.Rename

// Save persists s, replacing any previous store. All three files are written and synced
// to temporary files first, then installed in order with the manifest last. If an install
// step fails, files already installed are rolled back to their previous contents.
func Save(s *Store, p Paths) error {
	if err := s.CheckServable(); err != nil {
		return err
	}
	if len(s.vectors) != len(s.products) {
		return models.StoreIntegrityError("save store",
			fmt.Errorf("%d vectors but %d products", len(s.vectors), len(s.products)))
	}

	var vecBuf bytes.Buffer
	if err := WriteNPY(&vecBuf, s.vectors, s.dims); err != nil {
		return fmt.Errorf("encode embeddings: %w", err)
	}
	prodJSON, err := json.MarshalIndent(s.products, "", "  ")
	if err != nil {
		return fmt.Errorf("encode products: %w", err)
	}
	manJSON, err := json.MarshalIndent(manifest{
		Rows:             len(s.products),
		Dims:             s.dims,
		EmbeddingsSHA256: digest(vecBuf.Bytes()),
		ProductsSHA256:   digest(prodJSON),
		WrittenAt:        time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	steps := []*installStep{
		{dest: p.Products, data: prodJSON},
		{dest: p.Embeddings, data: vecBuf.Bytes()},
		{dest: p.Manifest(), data: manJSON},
	}
	defer func() {
		for _, st := range steps {
			st.cleanup()
		}
	}()
	for _, st := range steps {
		if err := st.prepare(); err != nil {
			return err
		}
	}
	for i, st := range steps {
		if err := rename(st.tmp, st.dest); err != nil {
			for j := i - 1; j >= 0; j-- {
				steps[j].rollback()
			}
			return fmt.Errorf("install %s: %w", filepath.Base(st.dest), err)
		}
		st.installed = true
	}
	return nil
}

// installStep replaces one file. The previous file, if any, is kept as a hard link (or
// copy) until the whole store is installed.
type installStep struct {
	dest      string
	data      []byte
	tmp       string
	backup    string
	installed bool
}

func (st *installStep) prepare() error {
	tmp, err := writeTemp(st.dest, st.data)
	if err != nil {
		return err
	}
	st.tmp = tmp

	info, err := os.Lstat(st.dest)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("stat %s: %w", st.dest, err)
	case !info.Mode().IsRegular():
		return fmt.Errorf("%s exists and is not a regular file", st.dest)
	}
	backup := st.tmp + ".prev"
	if err := os.Link(st.dest, backup); err != nil {
		if err := copyFile(st.dest, backup); err != nil {
			return fmt.Errorf("back up %s: %w", st.dest, err)
		}
	}
	st.backup = backup
	return nil
}

func (st *installStep) rollback() {
	if !st.installed {
		return
	}
	if st.backup == "" {
		_ = os.Remove(st.dest)
		return
	}
	if err := os.Rename(st.backup, st.dest); err == nil {
		st.backup = ""
	}
}

func (st *installStep) cleanup() {
	if st.tmp != "" && !st.installed {
		_ = os.Remove(st.tmp)
	}
	if st.backup != "" {
		_ = os.Remove(st.backup)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

func writeTemp(dest string, data []byte) (string, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create store directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file for %s: %w", dest, err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("sync %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close %s: %w", dest, err)
	}
	return name, nil
}

// Load reads the pair, checks it against the manifest and returns a validated, servable
// store. Any missing, unparseable, empty, mismatched or uncommitted artifact yields an
// error wrapping ErrStoreIntegrity.
func Load(p Paths) (*Store, error) {
	const op = "load store"
	manData, err := os.ReadFile(p.Manifest())
	if err != nil {
		return nil, models.StoreIntegrityError(op, fmt.Errorf("read manifest: %w", err))
	}
	var man manifest
	if err := json.Unmarshal(manData, &man); err != nil {
		return nil, models.StoreIntegrityError(op, fmt.Errorf("parse manifest %s: %w", p.Manifest(), err))
	}

	vecData, err := os.ReadFile(p.Embeddings)
	if err != nil {
		return nil, models.StoreIntegrityError(op, fmt.Errorf("read embeddings: %w", err))
	}
	prodData, err := os.ReadFile(p.Products)
	if err != nil {
		return nil, models.StoreIntegrityError(op, fmt.Errorf("read products: %w", err))
	}
	if digest(vecData) != man.EmbeddingsSHA256 {
		return nil, models.StoreIntegrityError(op, fmt.Errorf("embeddings %s does not match manifest", p.Embeddings))
	}
	if digest(prodData) != man.ProductsSHA256 {
		return nil, models.StoreIntegrityError(op, fmt.Errorf("products %s does not match manifest", p.Products))
	}

	vectors, dims, err := ReadNPY(bytes.NewReader(vecData))
	if err != nil {
		return nil, models.StoreIntegrityError(op, fmt.Errorf("read embeddings %s: %w", p.Embeddings, err))
	}
	var products []models.ProductRecord
	if err := json.Unmarshal(prodData, &products); err != nil {
		return nil, models.StoreIntegrityError(op, fmt.Errorf("parse products %s: %w", p.Products, err))
	}
	if len(vectors) != len(products) {
		return nil, models.StoreIntegrityError(op,
			fmt.Errorf("embeddings has %d rows but products has %d entries", len(vectors), len(products)))
	}
	if len(vectors) != man.Rows || dims != man.Dims {
		return nil, models.StoreIntegrityError(op,
			fmt.Errorf("store is %dx%d but manifest records %dx%d", len(vectors), dims, man.Rows, man.Dims))
	}

	s, err := New(dims, vectors, products)
	if err != nil {
		return nil, err
	}
	if err := s.CheckServable(); err != nil {
		return nil, err
	}
	return s, nil
}

// Exists reports whether every store file is present.
func Exists(p Paths) bool {
	for _, path := range p.Files() {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}
