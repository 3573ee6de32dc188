package blobs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"

	"cloud.google.com/go/storage"
	"github.com/treeder/gotils"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCS is a Bucket backed by Google Cloud Storage
type GCS struct {
	c         *storage.Client
	projectID string
	name      string
	location  string
}

var _ Bucket = (*GCS)(nil)

func NewGCS(c *storage.Client, projectID, bucket, location string) *GCS {
	return &GCS{c: c, projectID: projectID, name: bucket, location: location}
}

func (g *GCS) Name() string { return g.name }

func (g *GCS) Ensure(ctx context.Context) (bool, error) {
	b := g.c.Bucket(g.name)
	err := b.Create(ctx, g.projectID, &storage.BucketAttrs{Location: g.location})
	if err == nil {
		return true, nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
		// already there, make sure we can see it
		if _, err := b.Attrs(ctx); err != nil {
			return false, gotils.C(ctx).Errorf("bucket %v exists but is not accessible: %v", g.name, err)
		}
		return false, nil
	}
	return false, gotils.C(ctx).Errorf("error creating bucket %v: %v", g.name, err)
}

func (g *GCS) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	w := g.c.Bucket(g.name).Object(name).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", gotils.C(ctx).Errorf("Object(%q).Upload: %v", name, err)
	}
	if err := w.Close(); err != nil {
		return "", gotils.C(ctx).Errorf("Object(%q).Close: %v", name, err)
	}
	return URI(g.name, name), nil
}

func (g *GCS) Put(ctx context.Context, name string, data []byte, onlyIfAbsent bool) error {
	o := g.c.Bucket(g.name).Object(name)
	if onlyIfAbsent {
		o = o.If(storage.Conditions{DoesNotExist: true})
	}
	w := o.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return gotils.C(ctx).Errorf("Object(%q).Write: %v", name, err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return ErrExists
		}
		return gotils.C(ctx).Errorf("Object(%q).Close: %v", name, err)
	}
	return nil
}

func (g *GCS) Get(ctx context.Context, name string) ([]byte, error) {
	r, err := g.c.Bucket(g.name).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotExist
		}
		return nil, gotils.C(ctx).Errorf("Object(%q).NewReader: %v", name, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, gotils.C(ctx).Errorf("Object(%q).Read: %v", name, err)
	}
	return b, nil
}

func (g *GCS) Exists(ctx context.Context, name string) (bool, error) {
	_, err := g.c.Bucket(g.name).Object(name).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, gotils.C(ctx).Errorf("Object(%q).Attrs: %v", name, err)
}

func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	it := g.c.Bucket(g.name).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, gotils.C(ctx).Errorf("error listing %v: %v", prefix, err)
		}
		names = append(names, attrs.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Attrs is used by the health check
func (g *GCS) Attrs(ctx context.Context) error {
	_, err := g.c.Bucket(g.name).Attrs(ctx)
	return err
}
