package function

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(t *testing.T, bucket, name string) event.Event {
	t.Helper()
	e := event.New()
	e.SetID("evt-1")
	e.SetType("google.cloud.storage.object.v1.finalized")
	e.SetSource("//storage.googleapis.com/projects/_/buckets/" + bucket)
	require.NoError(t, e.SetData(event.ApplicationJSON, &StorageObjectData{Bucket: bucket, Name: name}))
	return e
}

func TestHandle(t *testing.T) {
	ctx := context.Background()
	var got []string
	h := &handler{rawPrefix: "raw/", ingest: func(ctx context.Context, bucket, name string) error {
		got = append(got, bucket+"/"+name)
		return nil
	}}

	tests := []struct {
		name   string
		ingest bool
	}{
		{"raw/sample_data.csv", true},
		{"raw/EXPORT.CSV", true},
		{"prices/MATIC/2024-01-01.json", false},
		{"sample_data.csv", false},
		{"raw/notes.txt", false},
	}
	for _, test := range tests {
		got = nil
		require.NoError(t, h.handle(ctx, newEvent(t, "landing", test.name)))
		if test.ingest {
			assert.Equal(t, []string{"landing/" + test.name}, got, test.name)
		} else {
			assert.Empty(t, got, test.name)
		}
	}
}

func TestHandleErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	h := &handler{rawPrefix: "raw/", ingest: func(ctx context.Context, bucket, name string) error { return boom }}

	err := h.handle(ctx, newEvent(t, "landing", "raw/a.csv"))
	assert.ErrorIs(t, err, boom)

	bad := event.New()
	require.NoError(t, bad.SetData(event.ApplicationJSON, []byte(`"not an object"`)))
	assert.Error(t, h.handle(ctx, bad))
}
