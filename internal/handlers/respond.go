package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"

	"github.com/veil-waf/veil-netflow/internal/classify"
	"github.com/veil-waf/veil-netflow/internal/features"
)

const maxBodyBytes = 1 << 20

var errNoVerdictLog = errors.New("verdict log not configured")

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps pipeline errors to status codes. Malformed records are the
// caller's fault; missing optional components are 503; the rest is ours.
func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	var schemaErr *features.SchemaError
	switch {
	case errors.As(err, &schemaErr):
		jsonError(w, schemaErr.Error(), http.StatusBadRequest)
	case errors.Is(err, classify.ErrModelUnavailable),
		errors.Is(err, classify.ErrExplainerDisabled),
		errors.Is(err, errNoVerdictLog):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		logger.Error("request failed", "path", r.URL.Path, "err", err)
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

// decodeRecord reads one JSON object from the body. Numbers stay
// json.Number so large counters are not rounded before validation.
func decodeRecord(w http.ResponseWriter, r *http.Request) (features.Record, error) {
	if !isJSON(r.Header.Get("Content-Type")) {
		return nil, errNotJSON
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var rec features.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadBody, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", errBadBody)
	}
	return rec, nil
}

var (
	errNotJSON = errors.New("request must be JSON")
	errBadBody = errors.New("invalid JSON body")
)

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// clientIP strips the port from RemoteAddr (already rewritten by RealIP).
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
