package blobs

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestMemoryBucket(t *testing.T) {
	ctx := context.Background()
	b := NewMemory("test-bucket")

	created, err := b.Ensure(ctx)
	if err != nil || !created {
		t.Fatalf("expected bucket to be created, got %v %v", created, err)
	}
	created, _ = b.Ensure(ctx)
	if created {
		t.Errorf("second Ensure should reuse the bucket")
	}

	uri, err := b.Upload(ctx, "raw/sample_data.csv", strings.NewReader("a,b\n"))
	if err != nil {
		t.Fatal(err)
	}
	if uri != "gs://test-bucket/raw/sample_data.csv" {
		t.Errorf("unexpected uri %v", uri)
	}

	if err := b.Put(ctx, "prices/MATIC/2024-01-02.json", []byte(`{"price":1}`), true); err != nil {
		t.Fatal(err)
	}
	if err := b.Put(ctx, "prices/MATIC/2024-01-02.json", []byte(`{"price":2}`), true); err != ErrExists {
		t.Errorf("expected ErrExists, got %v", err)
	}
	got, err := b.Get(ctx, "prices/MATIC/2024-01-02.json")
	if err != nil || string(got) != `{"price":1}` {
		t.Errorf("existing blob was overwritten: %s %v", got, err)
	}

	if _, err := b.Get(ctx, "nope"); err != ErrNotExist {
		t.Errorf("expected ErrNotExist, got %v", err)
	}

	_ = b.Put(ctx, "prices/MATIC/2024-01-01.json", []byte(`{"price":3}`), false)
	names, _ := b.List(ctx, "prices/MATIC/")
	exp := []string{"prices/MATIC/2024-01-01.json", "prices/MATIC/2024-01-02.json"}
	if !reflect.DeepEqual(names, exp) {
		t.Errorf("list mismatch:\nexpected: %v\ngot: %v", exp, names)
	}
}
