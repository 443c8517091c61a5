package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_LabelsByRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := Metrics(mux)

	for _, path := range []string{"/api/v1/ping", "/.env", "/wp-admin/setup.php"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	matched := testutil.ToFloat64(requestsTotal.WithLabelValues("GET /api/v1/ping", "204"))
	require.Equal(t, 1.0, matched)

	// Paths nothing matched share one label pair instead of minting
	// one per scanned path.
	unmatched := testutil.ToFloat64(requestsTotal.WithLabelValues("unmatched", "404"))
	require.Equal(t, 2.0, unmatched)
}
