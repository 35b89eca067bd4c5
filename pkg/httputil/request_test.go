package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	body := `{"expected_version": 3, "changes": {"name": "Platform Rewrite"}}`
	r := httptest.NewRequest("PUT", "/api/v1/projects/p1", strings.NewReader(body))

	var dest struct {
		ExpectedVersion int64                  `json:"expected_version"`
		Changes         map[string]interface{} `json:"changes"`
	}
	err := ParseJSON(r, &dest)

	assert.NoError(t, err)
	assert.Equal(t, int64(3), dest.ExpectedVersion)
	assert.Equal(t, "Platform Rewrite", dest.Changes["name"])
}

func TestParseJSON_Invalid(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/projects", strings.NewReader("{not json"))

	var dest map[string]interface{}
	err := ParseJSON(r, &dest)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestParseJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/v1/portfolios", strings.NewReader(`{"name": "FY26"}`))

	var dest map[string]interface{}
	ok := ParseJSONOrError(w, r, &dest)

	assert.True(t, ok)
	assert.Equal(t, "FY26", dest["name"])
}

func TestParseJSONOrError_WritesBadRequest(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/v1/portfolios", strings.NewReader("oops"))

	var dest map[string]interface{}
	ok := ParseJSONOrError(w, r, &dest)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryString(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/allocations/breakdown?worker_key=W1", nil)

	val := ParseQueryString(r, "worker_key", "")

	assert.Equal(t, "W1", val)
}

func TestParseQueryString_Default(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/allocations/breakdown", nil)

	val := ParseQueryString(r, "worker_key", "none")

	assert.Equal(t, "none", val)
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()

	assert.True(t, RequireNonEmpty(w, "W1", "worker_key"))

	w = httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(w, "", "worker_key"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "worker_key is required")
}
