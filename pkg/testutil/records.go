// Package testutil drives the records API in handler and router tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keeper/pkg/domain"
	"keeper/pkg/requestcontext"
)

// WithCaller attaches a resolved caller to the request context, the way the
// auth middleware does for a valid bearer token.
func WithCaller(req *http.Request, id string, roles ...string) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), domain.NewCaller(id, roles...)))
}

// RecordsAPI issues /records requests against a full router as one bearer.
// An empty token sends no Authorization header.
type RecordsAPI struct {
	t       *testing.T
	handler http.Handler
	token   string
}

func NewRecordsAPI(t *testing.T, handler http.Handler, token string) *RecordsAPI {
	return &RecordsAPI{t: t, handler: handler, token: token}
}

// As returns a copy of the client acting with another token.
func (a *RecordsAPI) As(token string) *RecordsAPI {
	return &RecordsAPI{t: a.t, handler: a.handler, token: token}
}

func (a *RecordsAPI) Create(entityType, id string, fields map[string]any) *httptest.ResponseRecorder {
	return a.Do(http.MethodPost, "/records/"+entityType, map[string]any{"id": id, "fields": fields})
}

func (a *RecordsAPI) Read(entityType, id string) *httptest.ResponseRecorder {
	return a.Do(http.MethodGet, "/records/"+entityType+"/"+id, nil)
}

func (a *RecordsAPI) Update(entityType, id string, fields map[string]any) *httptest.ResponseRecorder {
	return a.Do(http.MethodPatch, "/records/"+entityType+"/"+id, map[string]any{"fields": fields})
}

func (a *RecordsAPI) Delete(entityType, id string) *httptest.ResponseRecorder {
	return a.Do(http.MethodDelete, "/records/"+entityType+"/"+id, nil)
}

func (a *RecordsAPI) List(entityType string) *httptest.ResponseRecorder {
	return a.Do(http.MethodGet, "/records/"+entityType, nil)
}

// Do sends body as JSON when it is non-nil.
func (a *RecordsAPI) Do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err, "marshal request body")
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

// Decode unmarshals a successful response body.
func Decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "decode response: %s", rr.Body.String())
	return out
}

// AssertError checks the status and the error code of the JSON error envelope.
// Internal errors never carry a description, so none is leaked to callers.
func AssertError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rr.Code, "body: %s", rr.Body.String())
	body := Decode[map[string]any](t, rr)
	assert.Equal(t, code, body["error"])
	if code == "internal_error" {
		assert.NotContains(t, body, "error_description")
	}
}
