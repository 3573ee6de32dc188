// Package function ingests CSVs as they land in the bucket, deployed as a Cloud Function.
package function

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/goswap/marketplace-stats/app"
	"github.com/goswap/marketplace-stats/config"
	"github.com/treeder/gcputils"
)

func init() {
	functions.CloudEvent("IngestCSV", IngestCSV)
}

// StorageObjectData contains metadata of the Cloud Storage object.
type StorageObjectData struct {
	Bucket         string    `json:"bucket,omitempty"`
	Name           string    `json:"name,omitempty"`
	Metageneration int64     `json:"metageneration,string,omitempty"`
	TimeCreated    time.Time `json:"timeCreated,omitempty"`
	Updated        time.Time `json:"updated,omitempty"`
}

// ingestFunc loads one object into the warehouse
type ingestFunc func(ctx context.Context, bucket, name string) error

type handler struct {
	rawPrefix string
	ingest    ingestFunc
}

var (
	once     sync.Once
	h        *handler
	setupErr error
)

// clients live across invocations of a warm instance
func setup(ctx context.Context) (*handler, error) {
	once.Do(func() {
		cfg, err := config.Load("")
		if err != nil {
			setupErr = err
			return
		}
		a, err := app.New(ctx, cfg)
		if err != nil {
			setupErr = err
			return
		}
		h = &handler{
			rawPrefix: cfg.Storage.RawPrefix,
			ingest: func(ctx context.Context, bucket, name string) error {
				_, err := a.Collector.FetchObject(ctx, a.BucketNamed(bucket), name)
				return err
			},
		}
	})
	return h, setupErr
}

// IngestCSV consumes a storage finalize CloudEvent and ingests the object when it's a CSV under the raw prefix.
func IngestCSV(ctx context.Context, e event.Event) error {
	h, err := setup(ctx)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	return h.handle(ctx, e)
}

func (h *handler) handle(ctx context.Context, e event.Event) error {
	var data StorageObjectData
	if err := e.DataAs(&data); err != nil {
		return fmt.Errorf("event.DataAs: %v", err)
	}
	l := gcputils.With("event_id", e.ID())
	if !strings.HasPrefix(data.Name, h.rawPrefix) || !strings.HasSuffix(strings.ToLower(data.Name), ".csv") {
		l.Info().Printf("Ignoring gs://%v/%v", data.Bucket, data.Name)
		return nil
	}
	l.Info().Printf("Ingesting gs://%v/%v", data.Bucket, data.Name)
	if err := h.ingest(ctx, data.Bucket, data.Name); err != nil {
		return fmt.Errorf("ingest gs://%v/%v: %w", data.Bucket, data.Name, err)
	}
	return nil
}
