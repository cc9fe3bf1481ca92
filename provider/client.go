package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/meghashyamc/placefinder/logger"
	"github.com/meghashyamc/placefinder/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPlacesBaseURL  = "https://maps.googleapis.com/maps/api/place"
	defaultGeocodeBaseURL = "https://nominatim.openstreetmap.org"
	defaultTimeout        = 10 * time.Second
	defaultUserAgent      = "placefinder/1.0"

	statusOK          = "OK"
	statusZeroResults = "ZERO_RESULTS"

	operationPredict = "predict"
	operationResolve = "resolve_coordinate"
)

var tracer = otel.Tracer("placefinder.provider")

type Config struct {
	PlacesBaseURL  string
	PlacesAPIKey   string
	GeocodeBaseURL string
	Timeout        time.Duration
	UserAgent      string
}

// Client talks to the predictive search and reverse geocoding endpoints. Every call
// issues exactly one request; caching and deduplication belong to the callers.
type Client struct {
	httpClient     *http.Client
	placesBaseURL  string
	placesAPIKey   string
	geocodeBaseURL string
	userAgent      string
	logger         logger.Logger
	metrics        *metrics.Metrics
}

// NewClient builds a Client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger logger.Logger, m *metrics.Metrics) *Client {
	if strings.TrimSpace(cfg.PlacesBaseURL) == "" {
		cfg.PlacesBaseURL = defaultPlacesBaseURL
	}
	if strings.TrimSpace(cfg.GeocodeBaseURL) == "" {
		cfg.GeocodeBaseURL = defaultGeocodeBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		httpClient:     httpClient,
		placesBaseURL:  strings.TrimRight(cfg.PlacesBaseURL, "/"),
		placesAPIKey:   cfg.PlacesAPIKey,
		geocodeBaseURL: strings.TrimRight(cfg.GeocodeBaseURL, "/"),
		userAgent:      cfg.UserAgent,
		logger:         logger,
		metrics:        m,
	}
}

type autocompleteResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Predictions  []struct {
		PlaceID              string   `json:"place_id"`
		Description          string   `json:"description"`
		Types                []string `json:"types"`
		StructuredFormatting struct {
			MainText      string `json:"main_text"`
			SecondaryText string `json:"secondary_text"`
		} `json:"structured_formatting"`
	} `json:"predictions"`
}

func (c *Client) Predict(ctx context.Context, text string, opts PredictOptions) ([]Candidate, error) {
	ctx, span := tracer.Start(ctx, "provider.predict")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider.type_filter", opts.TypeFilter),
		attribute.String("provider.country", opts.CountryRestriction),
	)

	q := url.Values{}
	q.Set("input", text)
	if opts.CountryRestriction != "" {
		q.Set("components", "country:"+strings.ToLower(opts.CountryRestriction))
	}
	if opts.TypeFilter != "" {
		q.Set("types", opts.TypeFilter)
	}
	if c.placesAPIKey != "" {
		q.Set("key", c.placesAPIKey)
	}

	start := time.Now()
	var resp autocompleteResponse
	if err := c.getJSON(ctx, c.placesBaseURL+"/autocomplete/json?"+q.Encode(), &resp); err != nil {
		c.metrics.ObserveProviderRequest(operationPredict, "error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		c.logger.Warn("predict request failed", "type", opts.TypeFilter, "err", err.Error())
		return nil, &ProviderError{Status: "TRANSPORT", Err: err}
	}

	switch resp.Status {
	case statusOK:
	case statusZeroResults:
		c.metrics.ObserveProviderRequest(operationPredict, "zero_results", time.Since(start).Seconds())
		span.SetAttributes(attribute.Int("provider.results", 0))
		return []Candidate{}, nil
	default:
		c.metrics.ObserveProviderRequest(operationPredict, "error", time.Since(start).Seconds())
		span.SetStatus(codes.Error, resp.Status)
		c.logger.Warn("predict returned non-success status", "status", resp.Status, "message", resp.ErrorMessage)
		var err error
		if resp.ErrorMessage != "" {
			err = errors.New(resp.ErrorMessage)
		}
		return nil, &ProviderError{Status: resp.Status, Err: err}
	}

	candidates := make([]Candidate, 0, len(resp.Predictions))
	for _, prediction := range resp.Predictions {
		candidates = append(candidates, Candidate{
			ID:            prediction.PlaceID,
			Description:   prediction.Description,
			MainText:      prediction.StructuredFormatting.MainText,
			SecondaryText: prediction.StructuredFormatting.SecondaryText,
			Types:         prediction.Types,
		})
	}
	c.metrics.ObserveProviderRequest(operationPredict, "ok", time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("provider.results", len(candidates)))
	return candidates, nil
}

type reverseResponse struct {
	Error       string `json:"error"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Address     struct {
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		Locality      string `json:"locality"`
		StateDistrict string `json:"state_district"`
		County        string `json:"county"`
		State         string `json:"state"`
	} `json:"address"`
}

func (c *Client) ResolveCoordinate(ctx context.Context, lat, lon float64) (PlaceDescription, error) {
	ctx, span := tracer.Start(ctx, "provider.resolve_coordinate")
	defer span.End()

	fail := func(err error) (PlaceDescription, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("reverse geocoding failed", "err", err.Error())
		return PlaceDescription{}, &ResolutionError{Latitude: lat, Longitude: lon, Err: err}
	}

	if !validCoordinate(lat, lon) {
		return fail(errors.New("coordinate out of range"))
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))

	start := time.Now()
	var resp reverseResponse
	if err := c.getJSON(ctx, c.geocodeBaseURL+"/reverse?"+q.Encode(), &resp); err != nil {
		c.metrics.ObserveProviderRequest(operationResolve, "error", time.Since(start).Seconds())
		return fail(err)
	}
	if resp.Error != "" {
		c.metrics.ObserveProviderRequest(operationResolve, "error", time.Since(start).Seconds())
		return fail(errors.New(resp.Error))
	}

	place := PlaceDescription{
		Name:          resp.Name,
		City:          resp.Address.City,
		Town:          resp.Address.Town,
		Village:       resp.Address.Village,
		Locality:      resp.Address.Locality,
		StateDistrict: resp.Address.StateDistrict,
		County:        resp.Address.County,
		State:         resp.Address.State,
		DisplayName:   resp.DisplayName,
	}
	if !place.usable() {
		c.metrics.ObserveProviderRequest(operationResolve, "empty", time.Since(start).Seconds())
		return fail(errors.New("no usable address fields"))
	}
	c.metrics.ObserveProviderRequest(operationResolve, "ok", time.Since(start).Seconds())
	return place, nil
}

func validCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, msg)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
