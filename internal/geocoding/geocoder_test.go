package geocoding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestGeocodeCachesResults(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "Altamira, Caracas", r.URL.Query().Get("q"))
		assert.Equal(t, "ve", r.URL.Query().Get("countrycodes"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(`[{"lat":"10.4961","lon":"-66.8493"}]`))
	}))
	defer server.Close()

	dir := t.TempDir()
	g := NewGeocoder(server.URL, "VE", dir, 0, quietLogger())

	lat, lon, err := g.Geocode(context.Background(), "Altamira, Caracas")
	require.NoError(t, err)
	assert.InDelta(t, 10.4961, lat, 1e-9)
	assert.InDelta(t, -66.8493, lon, 1e-9)

	_, _, err = g.Geocode(context.Background(), "  altamira, caracas ")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// A new geocoder picks up the persisted cache.
	reloaded := NewGeocoder(server.URL, "VE", dir, 0, quietLogger())
	lat, _, err = reloaded.Geocode(context.Background(), "Altamira, Caracas")
	require.NoError(t, err)
	assert.InDelta(t, 10.4961, lat, 1e-9)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGeocodeNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	g := NewGeocoder(server.URL, "", "", 0, quietLogger())
	_, _, err := g.Geocode(context.Background(), "Nowhere")
	assert.True(t, errors.Is(err, ErrNoResults))

	_, _, err = g.Geocode(context.Background(), " ")
	assert.True(t, errors.Is(err, ErrNoResults))
}

func TestGeocodeUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	g := NewGeocoder(server.URL, "", "", 0, quietLogger())
	_, _, err := g.Geocode(context.Background(), "Caracas")
	assert.Error(t, err)
}

func TestGeocodeHonorsCancelledContext(t *testing.T) {
	g := NewGeocoder("http://127.0.0.1:0", "", "", 0, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := g.Geocode(ctx, "Caracas")
	assert.Error(t, err)
}
