package submission

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/logging"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/models"
)

func noDelayPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, Factor: 2}
}

func newTestClient(url string, retry RetryPolicy) *Client {
	return NewClient(Config{
		BaseURL:    url,
		APIKey:     "secret",
		IngestPath: "/api/licitaciones",
		Timeout:    time.Second,
		Retry:      retry,
	}, logging.Discard())
}

func samplePayload(id string) models.Payload {
	return models.Payload{LicitacionID: id, Nombre: "Servicio de aseo", Moneda: "CLP"}
}

func TestClient_SendOne(t *testing.T) {
	t.Run("Expect: JSON body, bearer token and success on 200", func(t *testing.T) {
		var got models.Payload
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/licitaciones", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer server.Close()

		resp, err := newTestClient(server.URL+"/", noDelayPolicy(0)).SendOne(context.Background(), samplePayload("A-1"))

		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, `{"ok":true}`, resp.Body)
		assert.Equal(t, "A-1", got.LicitacionID)
	})

	t.Run("Expect: 201 is not treated as success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		resp, err := newTestClient(server.URL, noDelayPolicy(0)).SendOne(context.Background(), samplePayload("A-1"))

		assert.Error(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.False(t, IsRetryable(err))
	})

	t.Run("Expect: no Authorization header without an api key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL}, logging.Discard())
		_, err := client.SendOne(context.Background(), samplePayload("A-1"))

		assert.NoError(t, err)
	})

	t.Run("Expect: timeout to surface as a retryable error", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		client := NewClient(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond}, logging.Discard())
		resp, err := client.SendOne(context.Background(), samplePayload("A-1"))

		assert.Nil(t, resp)
		assert.True(t, IsRetryable(err))
		assert.Equal(t, 0, StatusCode(err))
	})
}

func TestClient_Submit(t *testing.T) {
	t.Run("Expect: 422 returned after a single attempt", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"nombre invalido"}`))
		}))
		defer server.Close()

		resp, err := newTestClient(server.URL, noDelayPolicy(3)).Submit(context.Background(), samplePayload("A-1"))

		assert.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, http.StatusUnprocessableEntity, StatusCode(err))
		assert.Contains(t, err.Error(), "nombre invalido")
	})

	t.Run("Expect: 503 retried until the budget is spent", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL, noDelayPolicy(3)).Submit(context.Background(), samplePayload("A-1"))

		assert.True(t, IsRetryable(err))
		assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	})

	t.Run("Expect: success after transient failures", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		resp, err := newTestClient(server.URL, noDelayPolicy(3)).Submit(context.Background(), samplePayload("A-1"))

		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("Expect: duplicate wording on 409 detected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"La licitación ya existe"}`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL, noDelayPolicy(3)).Submit(context.Background(), samplePayload("A-1"))

		assert.True(t, IsDuplicate(err))
	})
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, IsDuplicate(&SubmissionError{StatusCode: 400, Body: "Licitacion DUPLICADA"}))
	assert.True(t, IsDuplicate(&SubmissionError{StatusCode: 409, Body: "record already exists"}))
	assert.False(t, IsDuplicate(&SubmissionError{StatusCode: 409, Body: "conflict"}))
	assert.False(t, IsDuplicate(&SubmissionError{StatusCode: 500, Body: "duplicate key"}))
	assert.False(t, IsDuplicate(errors.New("duplicate")))
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.Equal(t, time.Second, policy.Delay(1))
	assert.Equal(t, 2*time.Second, policy.Delay(2))
	assert.Equal(t, 4*time.Second, policy.Delay(3))
	assert.Equal(t, 8*time.Second, policy.Delay(4))
	assert.Equal(t, 10*time.Second, policy.Delay(5))
	assert.Equal(t, 10*time.Second, policy.Delay(12))
}

func TestExecuteWithRetry(t *testing.T) {
	t.Run("Expect: plain errors are not retried", func(t *testing.T) {
		calls := 0
		_, err := ExecuteWithRetry(context.Background(), noDelayPolicy(5), func(context.Context) (int, error) {
			calls++
			return 0, errors.New("boom")
		})

		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("Expect: cancelled context stops the backoff wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour, Factor: 2}

		_, err := ExecuteWithRetry(ctx, policy, func(context.Context) (int, error) {
			calls++
			cancel()
			return 0, &SubmissionError{Kind: KindRetryable, StatusCode: 502}
		})

		assert.Equal(t, 1, calls)
		assert.Equal(t, 502, StatusCode(err))
	})
}

func TestClient_SendBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p models.Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		if p.LicitacionID == "ok" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	payloads := []models.Payload{samplePayload("ok"), samplePayload("ok")}
	for i := 0; i < 12; i++ {
		payloads = append(payloads, samplePayload("bad"))
	}

	result := newTestClient(server.URL, noDelayPolicy(0)).SendBatch(context.Background(), payloads)

	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 12, result.ErrorCount)
	assert.Len(t, result.Errors, maxBatchMessages)
}

func TestClient_CheckHealth(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   bool
	}{
		{http.StatusOK, true},
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, false},
		{http.StatusInternalServerError, false},
	} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		assert.Equal(t, tc.want, newTestClient(server.URL, noDelayPolicy(0)).CheckHealth(context.Background()), "status %d", tc.status)
		server.Close()
	}

	t.Run("Expect: unreachable endpoint is unhealthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		assert.False(t, newTestClient(url, noDelayPolicy(0)).CheckHealth(context.Background()))
	})
}
