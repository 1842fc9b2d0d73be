package util

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a JSON response to the HTTP response writer.
// It automatically sets the Content-Type header, the X-Error-Code header, and
// the HTTP status code.
func WriteJSON(w http.ResponseWriter, resp any) error {
	w.Header().Set("Content-Type", "application/json")

	if r, ok := resp.(interface{ GetErrorCode() string }); ok && r.GetErrorCode() != "" {
		w.Header().Set("X-Error-Code", r.GetErrorCode())
	}
	if r, ok := resp.(interface{ GetStatusCode() int }); ok {
		w.WriteHeader(r.GetStatusCode())
	}

	return json.NewEncoder(w).Encode(resp)
}

// WriteRawJSON writes an already-encoded JSON body with the given status code
// and optional error code header.
func WriteRawJSON(w http.ResponseWriter, statusCode int, errorCode string, body []byte) error {
	w.Header().Set("Content-Type", "application/json")
	if errorCode != "" {
		w.Header().Set("X-Error-Code", errorCode)
	}
	w.WriteHeader(statusCode)

	_, err := w.Write(body)
	//nolint:wrapcheck // This is fine.
	return err
}
