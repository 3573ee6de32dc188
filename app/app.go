// Package app builds the cloud clients and services every binary shares from config.
package app

import (
	"context"
	"os"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/goswap/marketplace-stats/backend"
	"github.com/goswap/marketplace-stats/blobs"
	"github.com/goswap/marketplace-stats/collector"
	"github.com/goswap/marketplace-stats/config"
	"github.com/goswap/marketplace-stats/prices"
	"github.com/treeder/firetils"
	"github.com/treeder/gcputils"
	"github.com/treeder/gotils"
	"google.golang.org/api/option"
)

// App holds the wired up services
type App struct {
	Config *config.Config

	BigQuery  *bigquery.Client
	Storage   *storage.Client
	Firestore *firestore.Client
	PubSub    *pubsub.Client

	Warehouse *backend.BigQuery
	Bucket    *blobs.GCS
	Runs      backend.RunStore
	Prices    *prices.Resolver
	Collector *collector.Collector

	closers []func() error
}

// Credentials picks client options: the G_KEY service account when set,
// then the configured credentials file, then application default credentials.
func Credentials(cfg *config.Config) (projectID string, opts []option.ClientOption, err error) {
	projectID = cfg.Project.ID
	if os.Getenv("G_KEY") != "" {
		acc, opt, err := gcputils.AccountAndCredentialsFromEnv("G_KEY")
		if err != nil {
			return "", nil, err
		}
		if projectID == "" {
			projectID = acc.ProjectID
		}
		return projectID, opt, nil
	}
	if cfg.Credentials.Path != "" {
		return projectID, []option.ClientOption{option.WithCredentialsFile(cfg.Credentials.Path)}, nil
	}
	return projectID, nil, nil
}

// New connects to BigQuery, Cloud Storage, Firestore and Pub/Sub and builds the collector
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	projectID, opts, err := Credentials(cfg)
	if err != nil {
		return nil, gotils.C(ctx).Errorf("error loading credentials: %v", err)
	}
	a := &App{Config: cfg}

	a.BigQuery, err = bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, a.fail(gotils.C(ctx).Errorf("bigquery.NewClient: %v", err))
	}
	a.closers = append(a.closers, a.BigQuery.Close)

	a.Storage, err = storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, a.fail(gotils.C(ctx).Errorf("storage.NewClient: %v", err))
	}
	a.closers = append(a.closers, a.Storage.Close)

	a.Firestore, err = newFirestore(ctx, projectID, opts)
	if err != nil {
		return nil, a.fail(err)
	}
	a.closers = append(a.closers, a.Firestore.Close)

	var pub collector.Publisher = collector.NoopPublisher{}
	if cfg.PubSub.Topic != "" {
		a.PubSub, err = pubsub.NewClient(ctx, projectID, opts...)
		if err != nil {
			return nil, a.fail(gotils.C(ctx).Errorf("pubsub.NewClient: %v", err))
		}
		ps := collector.NewPubSub(a.PubSub, cfg.PubSub.Topic)
		a.closers = append(a.closers, func() error { ps.Stop(); return nil }, a.PubSub.Close)
		pub = ps
	}

	a.Warehouse = backend.NewBigQuery(a.BigQuery, cfg.Warehouse.Dataset, cfg.Warehouse.Table, cfg.Warehouse.Location)
	a.Bucket = blobs.NewGCS(a.Storage, projectID, cfg.Storage.Bucket, cfg.Warehouse.Location)
	a.Runs = backend.NewFirestoreRuns(a.Firestore, cfg.Firestore.Collection)

	remote := prices.NewCoinGecko(cfg.Prices.APIURL, cfg.Prices.APIKey, cfg.Prices.RateInterval, cfg.Prices.MaxRetries)
	a.Prices, err = prices.NewResolver(ctx, prices.NewStore(a.Bucket, cfg.Storage.PricePrefix), remote, prices.Options{
		CoinIDs:     cfg.Prices.CoinIDs,
		Stablecoins: cfg.Prices.Stablecoins,
		Decimals:    cfg.Prices.Decimals,
	})
	if err != nil {
		return nil, a.fail(err)
	}

	a.Collector = &collector.Collector{
		Bucket:    a.Bucket,
		Warehouse: a.Warehouse,
		Prices:    a.Prices,
		Runs:      a.Runs,
		Publisher: pub,
		RawPrefix: cfg.Storage.RawPrefix,
	}
	return a, nil
}

// newFirestore goes through firebase when there are explicit credentials
func newFirestore(ctx context.Context, projectID string, opts []option.ClientOption) (*firestore.Client, error) {
	if len(opts) == 0 {
		c, err := firestore.NewClient(ctx, projectID)
		if err != nil {
			return nil, gotils.C(ctx).Errorf("firestore.NewClient: %v", err)
		}
		return c, nil
	}
	fireapp, err := firetils.New(ctx, projectID, opts)
	if err != nil {
		return nil, gotils.C(ctx).Errorf("couldn't init firebase app: %v", err)
	}
	c, err := fireapp.Firestore(ctx)
	if err != nil {
		return nil, gotils.C(ctx).Errorf("couldn't init firestore: %v", err)
	}
	return c, nil
}

// BucketNamed returns another bucket with the same credentials, eg: the one an event came from
func (a *App) BucketNamed(name string) *blobs.GCS {
	return blobs.NewGCS(a.Storage, a.Config.Project.ID, name, a.Config.Warehouse.Location)
}

func (a *App) fail(err error) error {
	a.Close()
	return err
}

// Close shuts down all clients, last opened first
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
