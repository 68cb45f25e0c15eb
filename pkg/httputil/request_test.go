package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name:        "valid JSON",
			body:        `{"name": "test"}`,
			expectError: false,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "test", dest["name"])
			}
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		expectOK   bool
		expectCode int
	}{
		{
			name:     "valid JSON",
			body:     `{"name": "test"}`,
			expectOK: true,
		},
		{
			name:       "invalid JSON",
			body:       `{invalid}`,
			expectOK:   false,
			expectCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			ok := ParseJSONOrError(w, req, &dest)

			assert.Equal(t, tt.expectOK, ok)
			if !tt.expectOK {
				assert.Equal(t, tt.expectCode, w.Code)
			}
		})
	}
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/test/myvalue", nil)
	req = mux.SetURLVars(req, map[string]string{"name": "myvalue"})

	val, err := ParsePathString(req, "name")

	assert.NoError(t, err)
	assert.Equal(t, "myvalue", val)
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?page=5", nil)

	val, err := ParseQueryInt(req, "page", 1)

	assert.NoError(t, err)
	assert.Equal(t, 5, val)
}

func TestParseQueryInt_Default(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)

	val, err := ParseQueryInt(req, "page", 1)

	assert.NoError(t, err)
	assert.Equal(t, 1, val)
}

func TestParseQueryString(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?filter=active", nil)

	val := ParseQueryString(req, "filter", "all")

	assert.Equal(t, "active", val)
}

func TestParseQueryString_Default(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)

	val := ParseQueryString(req, "filter", "all")

	assert.Equal(t, "all", val)
}

func TestValidateAll(t *testing.T) {
	w := httptest.NewRecorder()

	validators := []Validator{
		func() (bool, string) { return true, "" },
		func() (bool, string) { return false, "validation failed" },
		func() (bool, string) { return true, "" },
	}

	ok := ValidateAll(w, validators...)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation failed")
}

func TestValidateAll_Success(t *testing.T) {
	w := httptest.NewRecorder()

	validators := []Validator{
		func() (bool, string) { return true, "" },
		func() (bool, string) { return true, "" },
	}

	ok := ValidateAll(w, validators...)

	assert.True(t, ok)
}

// TestParseJSONEmptyBody tests parsing an empty body
func TestParseJSONEmptyBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(""))

	var dest map[string]string
	err := ParseJSON(req, &dest)

	assert.Error(t, err)
}

func TestParsePathStringOrError_Missing(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/audit/entities/project/", nil)
	req = mux.SetURLVars(req, map[string]string{"type": "project"})

	val, ok := ParsePathStringOrError(w, req, "id")

	assert.False(t, ok)
	assert.Empty(t, val)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing path parameter: id")
}

func TestParseQueryInt_Invalid(t *testing.T) {
	req := httptest.NewRequest("GET", "/audit/entries?limit=ten", nil)

	_, err := ParseQueryInt(req, "limit", 50)

	assert.EqualError(t, err, "invalid integer for query param limit: ten")
}

func TestParseJSONEntryRequest(t *testing.T) {
	type entryRequest struct {
		Action   string                 `json:"action"`
		EntityID string                 `json:"entityId"`
		Metadata map[string]interface{} `json:"metadata"`
	}

	body := `{"action":"create","entityId":"p-1","metadata":{"source":"import"}}`
	req := httptest.NewRequest("POST", "/audit/entries", bytes.NewBufferString(body))

	var got entryRequest
	err := ParseJSON(req, &got)

	assert.NoError(t, err)
	assert.Equal(t, "create", got.Action)
	assert.Equal(t, "p-1", got.EntityID)
	assert.Equal(t, "import", got.Metadata["source"])
}
