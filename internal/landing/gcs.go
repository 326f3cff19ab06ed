package landing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const gcsWriteTimeout = 2 * time.Minute

// GCSStore reads batches from a Cloud Storage bucket, or from an emulator
// when emulatorHost is set.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a client with default credentials, or an unauthenticated
// one against emulatorHost.
func NewGCSStore(ctx context.Context, bucket, emulatorHost string) (*GCSStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("landing bucket is required for gcs mode")
	}
	var opts []option.ClientOption
	if host := strings.TrimRight(strings.TrimSpace(emulatorHost), "/"); host != "" {
		// The storage client reads the emulator endpoint from the environment.
		if err := os.Setenv("STORAGE_EMULATOR_HOST", host); err != nil {
			return nil, fmt.Errorf("set STORAGE_EMULATOR_HOST: %w", err)
		}
		opts = append(opts, option.WithoutAuthentication())
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Bucket() string { return s.bucket }

func (s *GCSStore) Close() error { return s.client.Close() }

// object resolves name at generation. A generation that is not a number can
// never be read and is reported as ErrObjectNotFound.
func (s *GCSStore) object(name string, generation string) (*storage.ObjectHandle, error) {
	if generation == "" {
		return s.client.Bucket(s.bucket).Object(name), nil
	}
	gen, err := strconv.ParseInt(generation, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s generation %q is not a number", ErrObjectNotFound, name, generation)
	}
	return s.client.Bucket(s.bucket).Object(name).Generation(gen), nil
}

func (s *GCSStore) Open(ctx context.Context, ref ObjectRef) (io.ReadCloser, error) {
	if ref.Bucket != "" && ref.Bucket != s.bucket {
		return nil, fmt.Errorf("%w: bucket %s is not the landing bucket %s", ErrObjectNotFound, ref.Bucket, s.bucket)
	}
	obj, err := s.object(ref.Name, ref.Generation)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, s.bucket, ref.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", s.bucket, ref.Name, err)
	}
	return r, nil
}

func (s *GCSStore) Put(ctx context.Context, name string, r io.Reader) (ObjectRef, error) {
	cleaned, err := CleanName(name)
	if err != nil {
		return ObjectRef{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsWriteTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(cleaned).NewWriter(ctx)
	w.ContentType = contentType(cleaned)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return ObjectRef{}, fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return ObjectRef{}, fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return s.refOf(w.Attrs()), nil
}

func (s *GCSStore) Stat(ctx context.Context, name string) (ObjectRef, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ObjectRef{}, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, s.bucket, name)
	}
	if err != nil {
		return ObjectRef{}, fmt.Errorf("stat gs://%s/%s: %w", s.bucket, name, err)
	}
	return s.refOf(attrs), nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]ObjectRef, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var refs []ObjectRef
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", s.bucket, prefix, err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		refs = append(refs, s.refOf(attrs))
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

func (s *GCSStore) refOf(attrs *storage.ObjectAttrs) ObjectRef {
	return ObjectRef{
		Bucket:     s.bucket,
		Name:       attrs.Name,
		Generation: strconv.FormatInt(attrs.Generation, 10),
		Size:       attrs.Size,
		Updated:    attrs.Updated.UTC(),
	}
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(name), ".csv"):
		return "text/csv"
	case strings.HasSuffix(strings.ToLower(name), ".xlsx"):
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
