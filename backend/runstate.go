package backend

import (
	"context"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/goswap/marketplace-stats/models"
	"github.com/treeder/gotils"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	CollectionTimestamps = "timestamps"
	CollectionRuns       = "runs"
)

// FirestoreRuns keeps a last_<kind> marker doc per job kind and a doc per run
type FirestoreRuns struct {
	c          *firestore.Client
	collection string
}

var _ RunStore = (*FirestoreRuns)(nil)

// NewFirestoreRuns stores markers in collection, CollectionTimestamps when empty
func NewFirestoreRuns(c *firestore.Client, collection string) *FirestoreRuns {
	if collection == "" {
		collection = CollectionTimestamps
	}
	return &FirestoreRuns{c: c, collection: collection}
}

func lastRunDoc(kind string) string {
	return "last_" + kind
}

func (fr *FirestoreRuns) LastRun(ctx context.Context, kind string) (*models.LastRun, error) {
	dsnap, err := fr.c.Collection(fr.collection).Doc(lastRunDoc(kind)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, gotils.ErrNotFound
		}
		return nil, gotils.C(ctx).Errorf("error getting last run: %v", err)
	}
	lr := &models.LastRun{}
	err = dsnap.DataTo(lr)
	if err != nil {
		return nil, gotils.C(ctx).Errorf("Failed to DataTo: %v", err)
	}
	return lr, nil
}

func (fr *FirestoreRuns) SaveRun(ctx context.Context, r *models.RunReport) error {
	r.PreSave()
	_, err := fr.c.Collection(CollectionRuns).Doc(r.RunID).Set(ctx, r)
	if err != nil {
		return gotils.C(ctx).Errorf("error writing run: %v", err)
	}
	lr := &models.LastRun{
		LastRunAt: r.FinishedAt,
		RunID:     r.RunID,
		Kind:      r.Kind,
	}
	_, err = fr.c.Collection(fr.collection).Doc(lastRunDoc(r.Kind)).Set(ctx, lr)
	if err != nil {
		return gotils.C(ctx).Errorf("error writing last run: %v", err)
	}
	return nil
}

// GetRun loads a stored run report
func (fr *FirestoreRuns) GetRun(ctx context.Context, runID string) (*models.RunReport, error) {
	dsnap, err := fr.c.Collection(CollectionRuns).Doc(runID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, gotils.ErrNotFound
		}
		return nil, gotils.C(ctx).Errorf("error getting run: %v", err)
	}
	r := &models.RunReport{}
	if err := dsnap.DataTo(r); err != nil {
		return nil, gotils.C(ctx).Errorf("Failed to DataTo: %v", err)
	}
	r.AfterLoad(ctx)
	return r, nil
}

// MemoryRuns is a RunStore for tests and local runs without firestore
type MemoryRuns struct {
	mu   sync.Mutex
	last map[string]*models.LastRun
	runs []*models.RunReport
}

var _ RunStore = (*MemoryRuns)(nil)

func NewMemoryRuns() *MemoryRuns {
	return &MemoryRuns{last: map[string]*models.LastRun{}}
}

func (mr *MemoryRuns) LastRun(ctx context.Context, kind string) (*models.LastRun, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	lr, ok := mr.last[kind]
	if !ok {
		return nil, gotils.ErrNotFound
	}
	cp := *lr
	return &cp, nil
}

func (mr *MemoryRuns) SaveRun(ctx context.Context, r *models.RunReport) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	r.PreSave()
	cp := *r
	mr.runs = append(mr.runs, &cp)
	mr.last[r.Kind] = &models.LastRun{LastRunAt: r.FinishedAt, RunID: r.RunID, Kind: r.Kind}
	return nil
}

func (mr *MemoryRuns) GetRun(ctx context.Context, runID string) (*models.RunReport, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	for _, r := range mr.runs {
		if r.RunID == runID {
			cp := *r
			cp.AfterLoad(ctx)
			return &cp, nil
		}
	}
	return nil, gotils.ErrNotFound
}

// Runs returns every saved report in order
func (mr *MemoryRuns) Runs() []*models.RunReport {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return append([]*models.RunReport(nil), mr.runs...)
}
