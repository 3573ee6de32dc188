package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goswap/marketplace-stats/app"
	"github.com/goswap/marketplace-stats/backend"
	"github.com/goswap/marketplace-stats/collector"
	"github.com/goswap/marketplace-stats/config"
	"github.com/goswap/marketplace-stats/health"
	"github.com/goswap/marketplace-stats/models"
	"github.com/goswap/marketplace-stats/utils"
	"github.com/shopspring/decimal"
	"github.com/treeder/gcputils"
	"github.com/treeder/goapibase"
	"github.com/treeder/gotils"
)

type server struct {
	db        backend.StatsBackend
	collector *collector.Collector
	runs      backend.RunStore
	health    *health.Service

	// dataPath is the CSV POST /collect ingests
	dataPath string
	// jobTimeout bounds the jobs the API triggers
	jobTimeout time.Duration
}

func main() {
	ctx := context.Background()
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("couldn't set up clients: %v\n", err)
	}
	defer a.Close()

	cache, err := backend.NewCacheBackend(ctx, a.Warehouse, cfg.Server.CacheTTL)
	if err != nil {
		log.Fatalf("couldn't set up cache: %v\n", err)
	}
	a.Collector.OnChange = cache.Purge

	hs := health.NewService(5 * time.Second)
	hs.Register(health.CheckFunc("warehouse", a.Warehouse.Ping))
	hs.Register(health.CheckFunc("bucket", a.Bucket.Attrs))

	// usd volumes go out as numbers
	decimal.MarshalJSONWithoutQuotes = true

	s := &server{db: cache, collector: a.Collector, runs: a.Runs, health: hs, dataPath: cfg.Data.Path, jobTimeout: cfg.Server.JobTimeout}
	r := newRouter(ctx, s)
	_ = goapibase.Start(ctx, gotils.Port(cfg.Server.Port), r)
}

func newRouter(ctx context.Context, s *server) chi.Router {
	r := goapibase.InitRouter(ctx)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("welcome"))
	})
	r.Get("/daily-volumes", errorHandler(s.getDailyVolumes))
	r.Get("/project-volumes", errorHandler(s.getProjectVolumes))
	r.Get("/metrics", errorHandler(s.getMetrics))
	r.Get("/summary", errorHandler(s.getSummary))
	r.Get("/health", s.health.Handler)
	r.Post("/collect", errorHandler(s.collect))
	r.Get("/runs/{id}", errorHandler(s.getRun))
	r.Route("/prices", func(r chi.Router) {
		r.Post("/update", errorHandler(s.updatePrices))
	})
	return r
}

type myHandlerFunc func(w http.ResponseWriter, r *http.Request) error

type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }
func (e *httpError) Code() int     { return e.code }

func badRequest(msg string) error {
	return &httpError{code: http.StatusBadRequest, msg: msg}
}

func errorHandler(h myHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		gcputils.Error().Printf("%v %v: %v", r.Method, r.URL.Path, err) // to cloud logging
		var coded interface{ Code() int }
		switch {
		case errors.As(err, &coded):
			gotils.WriteError(w, coded.Code(), err)
		case errors.Is(err, gotils.ErrNotFound):
			gotils.WriteError(w, http.StatusNotFound, err)
		default:
			gotils.WriteError(w, http.StatusInternalServerError, err)
		}
	}
}

// volumes per day and currency
func (s *server) getDailyVolumes(w http.ResponseWriter, r *http.Request) error {
	ret, err := s.db.GetDailyVolumes(r.Context())
	if err != nil {
		return err
	}
	if ret == nil {
		ret = []*models.DailyVolume{}
	}
	gotils.WriteObject(w, http.StatusOK, ret)
	return nil
}

// volumes per project and currency
func (s *server) getProjectVolumes(w http.ResponseWriter, r *http.Request) error {
	ret, err := s.db.GetProjectVolumes(r.Context())
	if err != nil {
		return err
	}
	if ret == nil {
		ret = []*models.ProjectVolume{}
	}
	gotils.WriteObject(w, http.StatusOK, ret)
	return nil
}

func (s *server) getMetrics(w http.ResponseWriter, r *http.Request) error {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := utils.ParseDate(d); err != nil {
			return badRequest("dates must be YYYY-MM-DD, got " + strconv.Quote(d))
		}
	}
	if from != "" && to != "" && from > to {
		return badRequest("from must not be after to")
	}
	ret, err := s.db.GetMetrics(r.Context(), from, to)
	if err != nil {
		return err
	}
	if ret == nil {
		ret = []*models.DailyMetric{}
	}
	gotils.WriteObject(w, http.StatusOK, ret)
	return nil
}

func (s *server) getSummary(w http.ResponseWriter, r *http.Request) error {
	ret, err := s.db.GetSummary(r.Context())
	if err != nil {
		return err
	}
	gotils.WriteObject(w, http.StatusOK, ret)
	return nil
}

// jobContext detaches a job from the request so a client disconnect doesn't stop it halfway
func (s *server) jobContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(r.Context())
	if s.jobTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.jobTimeout)
}

func (s *server) collect(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := s.jobContext(r)
	defer cancel()
	t := time.Now()
	ctx = gotils.With(ctx, "started_at", t)
	l := gcputils.With("started_at", t)
	l.Info().Println("Collector starting...")
	report, err := s.collector.Run(ctx, s.dataPath)
	if err != nil {
		return gotils.C(ctx).Errorf("error on collector.Run: %v", err)
	}
	l.Info().Println("Collector complete")
	gotils.WriteObject(w, http.StatusOK, report)
	return nil
}

func (s *server) getRun(w http.ResponseWriter, r *http.Request) error {
	ret, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	gotils.WriteObject(w, http.StatusOK, ret)
	return nil
}

// updatePrices forces a price update unless force=false is passed
func (s *server) updatePrices(w http.ResponseWriter, r *http.Request) error {
	force := true
	if f := r.URL.Query().Get("force"); f != "" {
		var err error
		force, err = strconv.ParseBool(f)
		if err != nil {
			return badRequest("force must be true or false")
		}
	}
	ctx, cancel := s.jobContext(r)
	defer cancel()
	report, err := s.collector.UpdatePrices(ctx, force)
	if errors.Is(err, collector.ErrAlreadyRan) {
		gotils.WriteMessage(w, http.StatusOK, err.Error())
		return nil
	}
	if err != nil {
		return err
	}
	gotils.WriteObject(w, http.StatusOK, report)
	return nil
}
