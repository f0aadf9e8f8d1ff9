package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseJSON(t *testing.T) {
	w := httptest.NewRecorder()
	responseJSON(w, &APIResponse{Status: "ok"}, http.StatusCreated)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, contentJSON, w.Header().Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(w.Body.Len()), w.Header().Get("Content-Length"))
	assert.JSONEq(t, `{"status":"ok","message":""}`, w.Body.String())
}

func TestResponseJSONUnencodable(t *testing.T) {
	w := httptest.NewRecorder()
	responseJSON(w, map[string]interface{}{"c": make(chan int)}, http.StatusOK)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var out APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "error", out.Status)
	assert.Equal(t, "internal server error", out.Message)
}

func TestResponseError(t *testing.T) {
	w := httptest.NewRecorder()
	responseError(w, http.StatusConflict, "nonce", "sender nonce 7 is not unique")

	assert.Equal(t, http.StatusConflict, w.Code)
	var out APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, APIResponse{Status: "error", Message: "sender nonce 7 is not unique", Field: "nonce"}, out)
}
