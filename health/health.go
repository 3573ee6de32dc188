// Package health reports whether the warehouse and bucket are reachable.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/treeder/gotils"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth is the result of a single check
type ComponentHealth struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Response is the /health body
type Response struct {
	Status     Status                     `json:"status"`
	Uptime     int64                      `json:"uptime_seconds"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// Checker is one dependency to check
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkFunc struct {
	name string
	f    func(ctx context.Context) error
}

func (c *checkFunc) Name() string                    { return c.name }
func (c *checkFunc) Check(ctx context.Context) error { return c.f(ctx) }

// CheckFunc makes a Checker from a function, eg: health.CheckFunc("warehouse", bq.Ping)
func CheckFunc(name string, f func(ctx context.Context) error) Checker {
	return &checkFunc{name: name, f: f}
}

// Service runs registered checkers
type Service struct {
	mu       sync.RWMutex
	checkers []Checker
	started  time.Time
	timeout  time.Duration
}

func NewService(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{started: time.Now(), timeout: timeout}
}

func (s *Service) Register(c Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers = append(s.checkers, c)
}

// Check runs all checkers concurrently. Any failure makes the whole service unhealthy.
func (s *Service) Check(ctx context.Context) *Response {
	s.mu.RLock()
	checkers := make([]Checker, len(s.checkers))
	copy(checkers, s.checkers)
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results := make([]ComponentHealth, len(checkers))
	// checker errors go into results, the group never fails
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checkers {
		i, c := i, c
		g.Go(func() error {
			start := time.Now()
			err := c.Check(gctx)
			h := ComponentHealth{
				Status:    StatusHealthy,
				LatencyMS: time.Since(start).Milliseconds(),
				Timestamp: time.Now().UTC(),
			}
			if err != nil {
				h.Status = StatusUnhealthy
				h.Message = fmt.Sprintf("%v", err)
			}
			results[i] = h
			return nil
		})
	}
	_ = g.Wait()

	resp := &Response{
		Status:     StatusHealthy,
		Uptime:     int64(time.Since(s.started).Seconds()),
		Components: make(map[string]ComponentHealth, len(checkers)),
		Timestamp:  time.Now().UTC(),
	}
	for i, c := range checkers {
		resp.Components[c.Name()] = results[i]
		if results[i].Status == StatusUnhealthy {
			resp.Status = StatusUnhealthy
		}
	}
	return resp
}

// Handler serves the check result, 503 when anything is unhealthy
func (s *Service) Handler(w http.ResponseWriter, r *http.Request) {
	resp := s.Check(r.Context())
	code := http.StatusOK
	if resp.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	gotils.WriteObject(w, code, resp)
}
