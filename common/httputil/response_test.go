package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name   string
		status int
		data   interface{}
	}{
		{name: "successful response with map", status: http.StatusOK, data: map[string]string{"message": "success"}},
		{name: "error response", status: http.StatusBadRequest, data: map[string]string{"error": "bad request"}},
		{name: "response with struct", status: http.StatusCreated, data: struct{ ID string }{"123"}},
		{name: "response with slice", status: http.StatusOK, data: []string{"one", "two", "three"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.status, tt.data)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var result interface{}
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		})
	}
}

func TestWriteJSON_InvalidData(t *testing.T) {
	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		WriteJSON(w, http.StatusOK, make(chan int))
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusConflict, "admin already has an active impersonation")

	assert.Equal(t, http.StatusConflict, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "admin already has an active impersonation", body["error"])
}

func TestWriteList_NilBecomesEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	WriteList[string](w, nil, Pagination{Page: 1, Limit: 10})

	var body struct {
		Data       []string   `json:"data"`
		Pagination Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotNil(t, body.Data)
	assert.Empty(t, body.Data)
	assert.Equal(t, 10, body.Pagination.Limit)
}
