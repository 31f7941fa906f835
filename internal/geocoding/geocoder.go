package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const cacheFileName = "geocode_cache.json"

var ErrNoResults = errors.New("no geocoding results")

// Geocoder resolves free-text locations through a Nominatim-compatible
// endpoint. Results are cached in memory and, when cacheDir is set, on disk.
type Geocoder struct {
	logger      *logrus.Logger
	endpoint    string
	countryCode string
	cacheDir    string
	cache       map[string][]float64
	cacheLock   sync.RWMutex
	client      *http.Client
	limiter     *rate.Limiter
}

func NewGeocoder(endpoint, countryCode, cacheDir string, minInterval time.Duration, logger *logrus.Logger) *Geocoder {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}

	g := &Geocoder{
		logger:      logger,
		endpoint:    endpoint,
		countryCode: strings.ToLower(countryCode),
		cacheDir:    cacheDir,
		cache:       make(map[string][]float64),
		client:      &http.Client{Timeout: 10 * time.Second},
		limiter:     rate.NewLimiter(limit, 1),
	}

	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			logger.WithError(err).Warn("Could not create geocode cache directory")
		}
		g.loadCache()
	}
	return g
}

func (g *Geocoder) loadCache() {
	data, err := os.ReadFile(filepath.Join(g.cacheDir, cacheFileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			g.logger.Warnf("Could not load geocode cache: %v", err)
		}
		return
	}

	if err := json.Unmarshal(data, &g.cache); err != nil {
		g.logger.Errorf("Failed to parse geocode cache: %v", err)
		return
	}
	g.logger.Infof("Loaded %d cached locations", len(g.cache))
}

// saveCache must be called with cacheLock held.
func (g *Geocoder) saveCache() {
	if g.cacheDir == "" {
		return
	}
	data, err := json.Marshal(g.cache)
	if err != nil {
		g.logger.Errorf("Failed to marshal geocode cache: %v", err)
		return
	}
	if err := os.WriteFile(filepath.Join(g.cacheDir, cacheFileName), data, 0644); err != nil {
		g.logger.Errorf("Failed to save geocode cache: %v", err)
	}
}

type nominatimResponse []struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode returns the coordinates of the best match for query.
func (g *Geocoder) Geocode(ctx context.Context, query string) (float64, float64, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return 0, 0, ErrNoResults
	}
	cacheKey := strings.ToLower(query)

	g.cacheLock.RLock()
	coords, ok := g.cache[cacheKey]
	g.cacheLock.RUnlock()
	if ok && len(coords) == 2 {
		g.logger.WithFields(logrus.Fields{
			"location": query,
			"source":   "cache",
		}).Debug("Found coordinates in cache")
		return coords[0], coords[1], nil
	}

	// Nominatim's usage policy allows one request per second.
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, 0, err
	}

	params := url.Values{
		"q":      []string{query},
		"format": []string{"json"},
		"limit":  []string{"1"},
	}
	if g.countryCode != "" {
		params.Set("countrycodes", g.countryCode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("User-Agent", "Habitat Listings/1.0")
	req.Header.Set("Accept-Language", "es,en;q=0.8")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.WithError(err).WithField("location", query).Error("Geocoding request failed")
		return 0, 0, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("geocoding service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read response: %w", err)
	}

	var result nominatimResponse
	if err := json.Unmarshal(body, &result); err != nil {
		g.logger.WithError(err).WithField("location", query).Error("Failed to parse geocoding response")
		return 0, 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result) == 0 {
		g.logger.WithField("location", query).Warn("No geocoding results found")
		return 0, 0, fmt.Errorf("%w for %q", ErrNoResults, query)
	}

	lat, err := strconv.ParseFloat(result[0].Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude %q: %w", result[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(result[0].Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude %q: %w", result[0].Lon, err)
	}

	g.logger.WithFields(logrus.Fields{
		"location":  query,
		"latitude":  lat,
		"longitude": lon,
		"source":    "nominatim",
	}).Info("Geocoded location")

	g.cacheLock.Lock()
	g.cache[cacheKey] = []float64{lat, lon}
	g.saveCache()
	g.cacheLock.Unlock()

	return lat, lon, nil
}
