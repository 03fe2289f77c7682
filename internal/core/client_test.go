package core

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

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ClientOptions) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts.BaseURL = srv.URL + "/dedupe"
	c, err := NewClient(opts)
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(ClientOptions{BaseURL: "  "})
	assert.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(ClientOptions{BaseURL: "http://localhost:8080/dedupe"})
	require.NoError(t, err)
	assert.Equal(t, 100*time.Second, c.Timeout())
}

func TestClient_Deduplicate_Success(t *testing.T) {
	var gotBody []map[string]any
	var gotAuth, gotMethod, gotPath string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"groups":[{"group_id":"g1","record_ids":["p","c1"],"merged_data":{"name":"Jon Smith","age":42}}]}`))
	}, ClientOptions{APIKey: "secret"})

	records := []Record{
		NewRecord("p", Fields{"name": "John Smith"}),
		NewRecord("c1", Fields{"name": "Jon Smith"}),
	}
	result, err := c.Deduplicate(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/dedupe", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)

	require.Len(t, gotBody, 2)
	for _, item := range gotBody {
		assert.Len(t, item, 2, "only id and data are sent")
		assert.Contains(t, item, "id")
		assert.Contains(t, item, "data")
	}
	assert.Equal(t, "p", gotBody[0]["id"])

	require.Len(t, result.Groups, 1)
	g := result.Groups[0]
	assert.Equal(t, "g1", g.GroupID)
	assert.Equal(t, []string{"p", "c1"}, g.RecordIDs)
	assert.Equal(t, json.Number("42"), g.MergedData["age"])
	assert.Equal(t, 1, result.AbsorbedCount())
}

func TestClient_Deduplicate_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, ClientOptions{Timeout: 50 * time.Millisecond})

	_, err := c.Deduplicate(context.Background(), []Record{NewRecord("a", Fields{})})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.Equal(t, "DDP001", MapError(err).Code)
}

func TestClient_Deduplicate_CallerCancel(t *testing.T) {
	started := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}, ClientOptions{Timeout: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := c.Deduplicate(ctx, []Record{NewRecord("a", Fields{})})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestClient_Deduplicate_ServiceError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, ClientOptions{})

	_, err := c.Deduplicate(context.Background(), nil)
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Contains(t, se.Error(), "boom")
	assert.Equal(t, "DDP002", MapError(err).Code)
}

func TestClient_Deduplicate_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"missing groups", `{}`},
		{"null groups", `{"groups":null}`},
		{"groups not array", `{"groups":{}}`},
		{"missing group_id", `{"groups":[{"record_ids":["a"],"merged_data":{}}]}`},
		{"missing record_ids", `{"groups":[{"group_id":"g","merged_data":{}}]}`},
		{"empty record_ids", `{"groups":[{"group_id":"g","record_ids":[],"merged_data":{}}]}`},
		{"missing merged_data", `{"groups":[{"group_id":"g","record_ids":["a"]}]}`},
		{"wrong id type", `{"groups":[{"group_id":"g","record_ids":[1],"merged_data":{}}]}`},
		{"trailing data", `{"groups":[]} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}, ClientOptions{})

			_, err := c.Deduplicate(context.Background(), []Record{NewRecord("a", Fields{})})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedResponse), "got %v", err)
			assert.Equal(t, "DDP003", MapError(err).Code)
		})
	}
}

func TestClient_Deduplicate_ResponseTooLarge(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"groups":[]}`))
	}, ClientOptions{MaxResponseBytes: 4})

	_, err := c.Deduplicate(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestClient_Deduplicate_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(ClientOptions{BaseURL: url})
	require.NoError(t, err)

	_, err = c.Deduplicate(context.Background(), nil)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "DDP005", MapError(err).Code)
}
