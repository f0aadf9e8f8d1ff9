package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	contentJSON  = "application/json; charset=utf-8"
	contentPlain = "text/plain; charset=utf-8"
)

func writeBody(w http.ResponseWriter, contentType string, body []byte, code int) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	w.Write(body)
}

// responseJSON encodes data before any header is sent, so a value that
// cannot be encoded turns into a 500 instead of a truncated body.
func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	body, err := json.Marshal(data)
	if err != nil {
		internalError(w)
		return
	}
	writeBody(w, contentJSON, append(body, '\n'), code)
}

func responsePlain(w http.ResponseWriter, text string, code int) {
	writeBody(w, contentPlain, []byte(text), code)
}

func responseError(w http.ResponseWriter, code int, field, message string) {
	responseJSON(w, &APIResponse{Status: "error", Message: message, Field: field}, code)
}

func notAcceptable(w http.ResponseWriter, field, message string) {
	responseError(w, http.StatusNotAcceptable, field, message)
}

func internalError(w http.ResponseWriter) {
	writeBody(w, contentJSON, []byte(`{"status":"error","message":"internal server error"}`+"\n"), http.StatusInternalServerError)
}
