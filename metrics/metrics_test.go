package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentHandlerUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(InstrumentHandler)
	r.HandleFunc("/parties/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/parties/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	scrape := httptest.NewRecorder()
	Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `houseparty_http_requests_total{method="GET",route="/parties/{id}",status="404"} 2`)
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordPush("sent")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "houseparty_push_deliveries_total")
}
