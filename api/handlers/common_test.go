// Common test helpers
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/placefinder/cache"
	"github.com/meghashyamc/placefinder/config"
	"github.com/meghashyamc/placefinder/dataset"
	"github.com/meghashyamc/placefinder/db/kvdb"
	"github.com/meghashyamc/placefinder/db/searchdb"
	"github.com/meghashyamc/placefinder/logger"
	"github.com/meghashyamc/placefinder/provider"
	"github.com/meghashyamc/placefinder/services/establishment"
	"github.com/meghashyamc/placefinder/services/search"
	"github.com/meghashyamc/placefinder/validation"
	"github.com/stretchr/testify/require"
)

var defaultTestRequestHeaders = map[string]string{"Content-Type": "application/json"}

type testCase struct {
	name             string
	requestHeaders   map[string]string
	queryParams      map[string]string
	expectedStatus   int
	expectedResponse map[string]any
}

// fakePredictor answers by type filter and then by text. Texts in failing return
// a provider error.
type fakePredictor struct {
	mu      sync.Mutex
	byType  map[string][]provider.Candidate
	byText  map[string][]provider.Candidate
	failing map[string]bool
	calls   int
}

func (p *fakePredictor) Predict(_ context.Context, text string, opts provider.PredictOptions) ([]provider.Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failing[text] {
		return nil, &provider.ProviderError{Status: "UNAVAILABLE", Err: errors.New("upstream down")}
	}
	if answer, ok := p.byType[opts.TypeFilter]; ok {
		return answer, nil
	}
	if answer, ok := p.byText[text]; ok {
		return answer, nil
	}
	return []provider.Candidate{}, nil
}

func (p *fakePredictor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeGeocoder struct {
	place provider.PlaceDescription
}

func (g *fakeGeocoder) ResolveCoordinate(_ context.Context, _, _ float64) (provider.PlaceDescription, error) {
	return g.place, nil
}

var testPredictor = func() *fakePredictor {
	return &fakePredictor{
		byType: map[string][]provider.Candidate{
			provider.TypeEstablishment: {
				{ID: "e1", MainText: "Kits Family Clinic", Description: "Kits Family Clinic, West 4th Avenue, Vancouver, BC, Canada"},
				{ID: "e2", MainText: "Kits Diner", Description: "Kits Diner, Seattle, WA, USA"},
			},
			provider.TypeAddress: {
				{ID: "a1", MainText: "2000 Kitsilano Road", Description: "2000 Kitsilano Road, Vancouver, British Columbia, Canada"},
			},
		},
		byText: map[string][]provider.Candidate{
			"Vancouver": {
				{ID: "p1", MainText: "Vancouver", Description: "Vancouver, BC, Canada"},
				{ID: "p2", MainText: "Vancouver Island", Description: "Vancouver Island, BC, Canada"},
				{ID: "p3", MainText: "Vancouver", Description: "Vancouver, WA, USA"},
			},
		},
		failing: map[string]bool{"Victoria": true},
	}
}

type testServer struct {
	router    *gin.Engine
	predictor *fakePredictor
	locations *kvdb.LocationMemory
}

func newTestLogger() logger.Logger {

	opts := &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}
	handler := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(handler)
}

func setupTestServer(t *testing.T, assert *require.Assertions) (*testServer, func()) {

	t.Setenv("ENV", "test")

	cfg, err := config.Load("")
	assert.NoError(err, "could not load config")

	testLogger := newTestLogger()

	localities, err := dataset.Default()
	assert.NoError(err, "could not load locality dataset")

	searchDB, err := searchdb.New(testLogger, localities)
	assert.NoError(err, "could not create search database")

	kvDB, err := kvdb.New(testLogger, filepath.Join(t.TempDir(), "kv.db"))
	assert.NoError(err, "could not create kv database")
	locations := kvdb.NewLocationMemory(kvDB, testLogger)

	validator, err := validation.New(testLogger)
	assert.NoError(err, "could not create validator")

	predictor := testPredictor()
	results := cache.NewMemory[[]provider.Candidate](cache.Options{Name: "search", TTL: cfg.GetSearchTTL(), MaxEntries: cfg.GetSearchMaxEntries()})
	coordinator := search.New(testLogger, predictor, searchDB, results, search.Options{
		Debounce:           cfg.GetDebounce(),
		MinQueryLength:     cfg.GetMinQueryLength(),
		CountryRestriction: cfg.GetCountry(),
	})
	establishments := establishment.New(testLogger, coordinator, localities, establishment.Options{
		Region:             cfg.GetEstablishmentRegion(),
		Threshold:          cfg.GetEstablishmentThreshold(),
		DomainKeywords:     cfg.GetEstablishmentKeywords(),
		CountryRestriction: cfg.GetCountry(),
	})

	gin.SetMode(gin.TestMode)
	router := gin.New()

	SetupSearch(router, testLogger, coordinator, validator)
	SetupEstablishments(router, testLogger, establishments, validator)
	SetupLocation(router, testLogger, locations, validator)
	SetupSession(router, testLogger, SessionConfig{
		Coordinator: coordinator,
		Geocoder:    &fakeGeocoder{place: provider.PlaceDescription{City: "Vancouver", State: "British Columbia"}},
		Locations:   locations,
		LocationTTL: cfg.GetLocationTTL(),
	}, validator)

	cleanup := func() {
		var err error
		err = searchDB.Close()
		assert.NoError(err, "could not close search database")
		err = kvDB.Close()
		assert.NoError(err, "could not close kv database")
	}

	return &testServer{router: router, predictor: predictor, locations: locations}, cleanup
}

func makeTestHTTPRequest(router *gin.Engine, assert *require.Assertions, method string, endpoint string, headers map[string]string, requestBodyMap map[string]interface{}, queryParams map[string]string) *httptest.ResponseRecorder {

	var err error
	w := httptest.NewRecorder()

	if len(queryParams) > 0 {
		values := url.Values{}
		for key, value := range queryParams {
			values.Set(key, value)
		}
		endpoint = endpoint + "?" + values.Encode()
	}
	var jsonBody []byte
	var req *http.Request
	if requestBodyMap != nil {
		jsonBody, err = json.Marshal(requestBodyMap)
		assert.NoError(err)
	}

	slog.Info("Making test request", "method", method, "endpoint", endpoint, "headers", headers, "body", string(jsonBody))

	if len(jsonBody) > 0 {
		req, err = http.NewRequest(method, endpoint, bytes.NewBuffer(jsonBody))
	} else {
		req, err = http.NewRequest(method, endpoint, nil)
	}
	assert.NoError(err)

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	router.ServeHTTP(w, req)

	return w
}

func decodeData(assert *require.Assertions, w *httptest.ResponseRecorder) map[string]any {
	var responseMap map[string]any
	assert.NoError(json.Unmarshal(w.Body.Bytes(), &responseMap))
	data, ok := responseMap["data"].(map[string]any)
	assert.True(ok, "expected data object in response %s", w.Body.String())
	return data
}

func resultIDs(assert *require.Assertions, data map[string]any, field string) []string {
	raw, ok := data[field].([]any)
	assert.True(ok, "expected %s list in response data", field)
	ids := []string{}
	for _, item := range raw {
		ids = append(ids, item.(map[string]any)["id"].(string))
	}
	return ids
}
