package http_handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/pmkol/rdapx/pkg/batch"
	"github.com/pmkol/rdapx/pkg/client"
	"github.com/pmkol/rdapx/pkg/pqueue"
	"github.com/pmkol/rdapx/pkg/rdap"
	"github.com/pmkol/rdapx/pkg/rdaperr"
)

type fakeClient struct {
	mu      sync.Mutex
	callers []string
	errs    map[string]error
	cleared int
}

func (f *fakeClient) Query(ctx context.Context, t rdap.QueryType, input string) (rdap.Response, error) {
	f.mu.Lock()
	f.callers = append(f.callers, client.CallerKey(ctx))
	f.mu.Unlock()
	if err := f.errs[input]; err != nil {
		return nil, err
	}
	switch t {
	case rdap.TypeDomain:
		return &rdap.Domain{LDHName: input}, nil
	case rdap.TypeIP:
		return &rdap.IPNetwork{StartAddress: input, EndAddress: input}, nil
	}
	return &rdap.Autnum{StartAutnum: 15169, EndAutnum: 15169}, nil
}

func (f *fakeClient) ClearCache() {
	f.mu.Lock()
	f.cleared++
	f.mu.Unlock()
}

func (f *fakeClient) Stats() client.Stats {
	return client.Stats{Queries: 7}
}

func (f *fakeClient) lastCaller() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callers[len(f.callers)-1]
}

type HandlerSuite struct {
	suite.Suite
	client  *fakeClient
	handler *Handler
}

func (s *HandlerSuite) SetupTest() {
	s.client = &fakeClient{errs: map[string]error{
		"limited.com": &rdaperr.RateLimitError{Key: "k", Limit: 1, Window: time.Minute, RetryAfter: 1500 * time.Millisecond},
		"nowhere.zz":  &rdaperr.NoServerFoundError{Registry: "dns", Query: "nowhere.zz"},
		"bad":         &rdaperr.ValidationError{Field: "domain", Input: "bad", Reason: "not a domain"},
	}}
	h, err := NewHandler(HandlerOpts{
		Client:       s.client,
		Batch:        batch.New(s.client, nil),
		BatchOpts:    batch.Options{Concurrency: 2, ContinueOnError: true},
		MaxBatchSize: 3,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	})
	require.NoError(s.T(), err)
	s.handler = h
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) do(method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decodeError(rec *httptest.ResponseRecorder) errorBody {
	var b errorBody
	require.NoError(s.T(), json.NewDecoder(rec.Body).Decode(&b))
	return b
}

func (s *HandlerSuite) TestHealth() {
	rec := s.do(http.MethodGet, "/health", nil)
	assert.Equal(s.T(), http.StatusOK, rec.Code)
	assert.Equal(s.T(), "OK", rec.Body.String())
}

func (s *HandlerSuite) TestQuery_Success() {
	rec := s.do(http.MethodGet, "/domain/example.com", nil)
	require.Equal(s.T(), http.StatusOK, rec.Code)
	assert.Equal(s.T(), contentTypeJSON, rec.Header().Get("Content-Type"))

	var d rdap.Domain
	require.NoError(s.T(), json.NewDecoder(rec.Body).Decode(&d))
	assert.Equal(s.T(), "example.com", d.LDHName)
	assert.Equal(s.T(), "203.0.113.7", s.client.lastCaller())

	rec = s.do(http.MethodGet, "/ip/2001:db8::1", nil)
	assert.Equal(s.T(), http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/autnum/AS15169", nil)
	assert.Equal(s.T(), http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestQuery_Errors() {
	rec := s.do(http.MethodGet, "/domain/limited.com", nil)
	assert.Equal(s.T(), http.StatusTooManyRequests, rec.Code)
	assert.Equal(s.T(), "2", rec.Header().Get("Retry-After"))
	b := s.decodeError(rec)
	assert.Equal(s.T(), rdaperr.CodeRateLimit, b.Code)
	assert.NotEmpty(s.T(), b.Hint)

	rec = s.do(http.MethodGet, "/domain/nowhere.zz", nil)
	assert.Equal(s.T(), http.StatusNotFound, rec.Code)
	assert.Equal(s.T(), rdaperr.CodeNoServer, s.decodeError(rec).Code)

	rec = s.do(http.MethodGet, "/domain/bad", nil)
	assert.Equal(s.T(), http.StatusBadRequest, rec.Code)
	assert.Equal(s.T(), rdaperr.CodeValidation, s.decodeError(rec).Code)

	rec = s.do(http.MethodGet, "/domain/example.com?priority=urgent", nil)
	assert.Equal(s.T(), http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestClearCacheAndStats() {
	rec := s.do(http.MethodDelete, "/cache", nil)
	assert.Equal(s.T(), http.StatusNoContent, rec.Code)
	assert.Equal(s.T(), 1, s.client.cleared)

	rec = s.do(http.MethodGet, "/stats", nil)
	require.Equal(s.T(), http.StatusOK, rec.Code)
	var st client.Stats
	require.NoError(s.T(), json.NewDecoder(rec.Body).Decode(&st))
	assert.EqualValues(s.T(), 7, st.Queries)

	rec = s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(s.T(), "# metrics", rec.Body.String())
}

func (s *HandlerSuite) TestBatch() {
	body := `{"requests":[
		{"id":"1","type":"domain","query":"example.com"},
		{"id":"2","type":"domain","query":"nowhere.zz"},
		{"id":"3","type":"ip","query":"8.8.8.8"}]}`
	rec := s.do(http.MethodPost, "/batch", []byte(body))
	require.Equal(s.T(), http.StatusOK, rec.Code)

	var out struct {
		Results []struct {
			ID       string          `json:"id"`
			Response json.RawMessage `json:"response"`
			Error    *errorBody      `json:"error"`
		} `json:"results"`
	}
	require.NoError(s.T(), json.NewDecoder(rec.Body).Decode(&out))
	require.Len(s.T(), out.Results, 3)
	for _, r := range out.Results {
		if r.ID == "2" {
			require.NotNil(s.T(), r.Error)
			assert.Equal(s.T(), rdaperr.CodeNoServer, r.Error.Code)
			assert.Empty(s.T(), r.Response)
			continue
		}
		assert.Nil(s.T(), r.Error)
		assert.NotEmpty(s.T(), r.Response)
	}
}

func (s *HandlerSuite) TestBatch_StopOnError() {
	body := `{"continueOnError":false,"requests":[{"type":"domain","query":"nowhere.zz"}]}`
	rec := s.do(http.MethodPost, "/batch", []byte(body))
	assert.Equal(s.T(), http.StatusNotFound, rec.Code)
	assert.Equal(s.T(), rdaperr.CodeNoServer, s.decodeError(rec).Code)
}

func (s *HandlerSuite) TestBatch_InvalidBody() {
	for _, body := range []string{
		`not json`,
		`{"requests":[]}`,
		`{"unknown":1}`,
		`{"requests":[` + strings.Repeat(`{"type":"domain","query":"a.com"},`, 3) + `{"type":"domain","query":"a.com"}]}`,
	} {
		rec := s.do(http.MethodPost, "/batch", []byte(body))
		assert.Equal(s.T(), http.StatusBadRequest, rec.Code, body)
	}
}

func Test_Handler_Queue(t *testing.T) {
	fc := &fakeClient{}
	q, err := pqueue.New[Job, rdap.Response](func(ctx context.Context, j Job) (rdap.Response, error) {
		return fc.Query(client.WithCallerKey(ctx, j.Caller), j.Type, j.Input)
	}, pqueue.Opts{Concurrency: 1})
	require.NoError(t, err)
	defer q.Close()

	h, err := NewHandler(HandlerOpts{Client: fc, Queue: q})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/domain/example.com?priority=high", nil)
	req.RemoteAddr = "198.51.100.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "198.51.100.1", fc.lastCaller())

	// No batch processor, no route.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/batch", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_getRemoteAddr(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		trust   bool
		custom  string
		want    string
	}{
		{"direct", nil, false, "", "192.0.2.1"},
		{"headers ignored", map[string]string{"X-Real-IP": "10.0.0.1"}, false, "", "192.0.2.1"},
		{"x-real-ip", map[string]string{"X-Real-IP": "10.0.0.1"}, true, "", "10.0.0.1"},
		{"xff first", map[string]string{"X-Forwarded-For": "10.0.0.2, 10.0.0.3"}, true, "", "10.0.0.2"},
		{"custom", map[string]string{"CF-Connecting-IP": "2001:db8::5"}, true, "CF-Connecting-IP", "2001:db8::5"},
		{"invalid header", map[string]string{"X-Real-IP": "nope"}, true, "", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = "[::ffff:192.0.2.1]:443"
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			addr, err := getRemoteAddr(r, tt.trust, tt.custom)
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr.String())
		})
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "pipe"
	_, err := getRemoteAddr(r, false, "")
	assert.Error(t, err)
}
