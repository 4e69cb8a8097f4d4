package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	WriteError(w, r, ErrNotFound().AddMessages("Subscription 7 does not exist"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["code"])
	assert.Equal(t, "Requested resources not found", body["error"])
	assert.Equal(t, []interface{}{"Subscription 7 does not exist"}, body["messages"])
}

func TestWriteErrorWithoutMessages(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)

	WriteError(w, r, ErrInvalidSignature())

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"code":"invalid_signature","error":"Webhook signature verification failed"}`, w.Body.String())
}

func TestErrorBuildersAreIndependent(t *testing.T) {
	a := ErrBadRequest().AddMessages("first")
	b := ErrBadRequest()

	assert.Len(t, a.Messages, 1)
	assert.Empty(t, b.Messages)
	assert.Contains(t, a.Error(), "bad_request")
}

func TestWriteResponse(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	WriteResponse(w, r, map[string]bool{"received": true})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
}
