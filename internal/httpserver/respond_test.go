package httpserver

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWritesJSONAndStatus(t *testing.T) {
	w := httptest.NewRecorder()
	Respond(w, 201, map[string]string{"ok": "true"})

	assert.Equal(t, 201, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "true", body["ok"])
}

func TestRespondNilBodyWritesNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	Respond(w, 204, nil)

	assert.Equal(t, 204, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()
	RespondError(w, 400, "bad_request", "missing field name")

	assert.Equal(t, 400, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "bad_request", body.Error)
	assert.Equal(t, "missing field name", body.Message)
}
