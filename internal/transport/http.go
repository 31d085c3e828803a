package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

var (
	errSignatureInvalid = errors.New("transport: request signature invalid")
	errNoPeerClient     = errors.New("transport: no peer client configured")
)

func decodeBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 16<<20))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
