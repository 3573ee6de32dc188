package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(ctx context.Context) error { return nil }

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		exp      Status
	}{
		{"none", nil, StatusHealthy},
		{"all ok", []Checker{CheckFunc("warehouse", ok), CheckFunc("bucket", ok)}, StatusHealthy},
		{"one down", []Checker{CheckFunc("warehouse", ok), CheckFunc("bucket", func(ctx context.Context) error {
			return errors.New("bucket gone")
		})}, StatusUnhealthy},
	}
	for _, test := range tests {
		s := NewService(time.Second)
		for _, c := range test.checkers {
			s.Register(c)
		}
		resp := s.Check(context.Background())
		assert.Equal(t, test.exp, resp.Status, test.name)
		assert.Len(t, resp.Components, len(test.checkers), test.name)
	}
}

func TestCheckTimeout(t *testing.T) {
	s := NewService(10 * time.Millisecond)
	s.Register(CheckFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	resp := s.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Components["slow"].Message, "deadline")
}

func TestHandler(t *testing.T) {
	s := NewService(time.Second)
	s.Register(CheckFunc("warehouse", ok))

	rec := httptest.NewRecorder()
	s.Handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusHealthy, body.Status)
	assert.Equal(t, StatusHealthy, body.Components["warehouse"].Status)

	s.Register(CheckFunc("bucket", func(ctx context.Context) error { return errors.New("403") }))
	rec = httptest.NewRecorder()
	s.Handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "403", body.Components["bucket"].Message)
}
