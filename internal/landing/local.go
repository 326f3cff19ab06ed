package landing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const tempPrefix = ".upload-"

// LocalStore keeps objects as files under a root directory. The generation is
// the file's modification time in nanoseconds.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve landing dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create landing dir: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

// Root returns the absolute landing directory.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) Bucket() string { return "" }

func (s *LocalStore) Close() error { return nil }

func (s *LocalStore) path(name string) (string, string, error) {
	cleaned, err := CleanName(name)
	if err != nil {
		return "", "", err
	}
	return cleaned, filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *LocalStore) Open(ctx context.Context, ref ObjectRef) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, p, err := s.path(ref.Name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if ref.Generation != "" {
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		if gen := generationOf(info); gen != ref.Generation {
			_ = f.Close()
			return nil, fmt.Errorf("%w: %s generation %s superseded by %s", ErrObjectNotFound, name, ref.Generation, gen)
		}
	}
	return f, nil
}

func (s *LocalStore) Put(ctx context.Context, name string, r io.Reader) (ObjectRef, error) {
	if err := ctx.Err(); err != nil {
		return ObjectRef{}, err
	}
	cleaned, p, err := s.path(name)
	if err != nil {
		return ObjectRef{}, err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ObjectRef{}, fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return ObjectRef{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return ObjectRef{}, fmt.Errorf("write %s: %w", cleaned, err)
	}
	if err := tmp.Close(); err != nil {
		return ObjectRef{}, fmt.Errorf("close %s: %w", cleaned, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return ObjectRef{}, fmt.Errorf("finalize %s: %w", cleaned, err)
	}
	return s.Stat(ctx, cleaned)
}

func (s *LocalStore) Stat(_ context.Context, name string) (ObjectRef, error) {
	cleaned, p, err := s.path(name)
	if err != nil {
		return ObjectRef{}, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return ObjectRef{}, fmt.Errorf("%w: %s", ErrObjectNotFound, cleaned)
	}
	if err != nil {
		return ObjectRef{}, fmt.Errorf("stat %s: %w", cleaned, err)
	}
	if info.IsDir() {
		return ObjectRef{}, fmt.Errorf("%w: %s is a directory", ErrObjectNotFound, cleaned)
	}
	return refOf(cleaned, info), nil
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]ObjectRef, error) {
	var refs []ObjectRef
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		refs = append(refs, refOf(name, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list landing dir: %w", err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

func refOf(name string, info fs.FileInfo) ObjectRef {
	return ObjectRef{
		Name:       name,
		Generation: generationOf(info),
		Size:       info.Size(),
		Updated:    info.ModTime().UTC(),
	}
}

func generationOf(info fs.FileInfo) string {
	return strconv.FormatInt(info.ModTime().UnixNano(), 10)
}
