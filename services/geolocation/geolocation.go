package geolocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/meghashyamc/placefinder/cache"
	"github.com/meghashyamc/placefinder/clock"
	"github.com/meghashyamc/placefinder/logger"
	"github.com/meghashyamc/placefinder/metrics"
	"github.com/meghashyamc/placefinder/provider"
	"golang.org/x/sync/singleflight"
)

const (
	CurrentLocationKey = "current-location"
	UnknownLocation    = "Unknown location"
	FailureMessage     = "Could not determine your location"
)

type State int

const (
	Idle State = iota
	Detecting
	Resolved
	PermissionDenied
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Detecting:
		return "detecting"
	case Resolved:
		return "resolved"
	case PermissionDenied:
		return "permission_denied"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DeviceLocator asks the user's device for its position. A refusal must match
// ErrPermissionDenied; anything else is treated as a device failure.
type DeviceLocator interface {
	RequestCurrentPosition(ctx context.Context) (Coordinate, error)
}

// Prompter shows detection problems to the user. Both prompt actions call back
// into the Resolver.
type Prompter interface {
	PromptPermissionDenied(retry func(), skip func())
	NotifyFailure(message string)
}

type Resolution struct {
	City       string     `json:"city"`
	Coordinate Coordinate `json:"coordinate"`
	ResolvedAt time.Time  `json:"resolved_at"`
}

type Options struct {
	Clock   clock.Clock
	Metrics *metrics.Metrics
	// OnResolved is called once for every successful detection.
	OnResolved func(Resolution)
}

// Resolver turns the device position into a city name. Concurrent callers share a
// single detection attempt, and a successful answer is served from the location
// cache until it expires.
type Resolver struct {
	logger    logger.Logger
	device    DeviceLocator
	geocoder  provider.CoordinateResolver
	prompter  Prompter
	locations cache.Cache[Resolution]
	opts      Options

	group singleflight.Group

	mu       sync.Mutex
	state    State
	lastErr  error
	skipped  bool
	attempts int
}

func New(logger logger.Logger, device DeviceLocator, geocoder provider.CoordinateResolver, prompter Prompter, locations cache.Cache[Resolution], opts Options) *Resolver {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if prompter == nil {
		prompter = noopPrompter{}
	}
	return &Resolver{
		logger:    logger,
		device:    device,
		geocoder:  geocoder,
		prompter:  prompter,
		locations: locations,
		opts:      opts,
	}
}

// ResolveCurrentCity returns the cached city or waits for the detection attempt in
// progress, starting one if there is none. After a denial or failure it keeps
// returning that error until Retry is called. Cancelling ctx only stops this
// caller from waiting.
func (r *Resolver) ResolveCurrentCity(ctx context.Context) (string, error) {
	if resolution, ok := r.locations.Get(ctx, CurrentLocationKey); ok {
		return resolution.City, nil
	}

	r.mu.Lock()
	if r.state == PermissionDenied || r.state == Failed {
		err := r.lastErr
		r.mu.Unlock()
		return "", err
	}
	r.mu.Unlock()

	attempt := r.group.DoChan(CurrentLocationKey, func() (interface{}, error) {
		return r.detect(context.WithoutCancel(ctx))
	})

	select {
	case result := <-attempt:
		if result.Err != nil {
			return "", result.Err
		}
		return result.Val.(Resolution).City, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Retry starts a new detection after a denial or failure. In any other state it
// behaves like ResolveCurrentCity.
func (r *Resolver) Retry(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.state == PermissionDenied || r.state == Failed {
		r.logger.Info("retrying location detection", "previous_state", r.state.String())
		r.state = Detecting
		r.lastErr = nil
		r.skipped = false
	}
	r.mu.Unlock()

	return r.ResolveCurrentCity(ctx)
}

// Skip records that the user chose manual entry. Detection is not attempted again
// until Retry.
func (r *Resolver) Skip() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = true
	r.opts.Metrics.ObserveDetection("skipped")
	r.logger.Info("location detection skipped", "state", r.state.String())
}

func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Resolver) Skipped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}

// Attempts counts detection attempts that reached the device.
func (r *Resolver) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *Resolver) detect(ctx context.Context) (Resolution, error) {
	// A caller can miss the cache just before the previous attempt wrote to it.
	if resolution, ok := r.locations.Get(ctx, CurrentLocationKey); ok {
		return resolution, nil
	}

	r.mu.Lock()
	if r.state == PermissionDenied || r.state == Failed {
		err := r.lastErr
		r.mu.Unlock()
		return Resolution{}, err
	}
	r.state = Detecting
	r.attempts++
	r.mu.Unlock()

	coordinate, err := r.device.RequestCurrentPosition(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			r.logger.Warn("location permission denied", "err", err.Error())
			r.fail(PermissionDenied, err, "permission_denied")
			r.prompter.PromptPermissionDenied(r.retryAction, r.Skip)
			return Resolution{}, err
		}
		deviceErr := &OtherDeviceError{Err: err}
		r.logger.Warn("device location failed", "err", err.Error())
		r.fail(Failed, deviceErr, "device_error")
		r.prompter.NotifyFailure(FailureMessage)
		return Resolution{}, deviceErr
	}

	place, err := r.geocoder.ResolveCoordinate(ctx, coordinate.Latitude, coordinate.Longitude)
	if err != nil {
		r.logger.Warn("could not resolve device coordinate", "err", err.Error())
		r.fail(Failed, err, "resolution_error")
		r.prompter.NotifyFailure(FailureMessage)
		return Resolution{}, err
	}

	resolution := Resolution{
		City:       ExtractCity(place),
		Coordinate: coordinate,
		ResolvedAt: r.opts.Clock.Now(),
	}
	r.locations.Set(ctx, CurrentLocationKey, resolution)
	r.settle(Resolved, nil, "resolved")
	r.logger.Info("resolved current location", "city", resolution.City)

	if r.opts.OnResolved != nil {
		r.opts.OnResolved(resolution)
	}
	return resolution, nil
}

func (r *Resolver) settle(state State, err error, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.lastErr = err
	r.opts.Metrics.ObserveDetection(outcome)
}

// fail settles a failed attempt and detaches it from the singleflight key before
// the prompter runs. A Retry that sees the failure state starts a new attempt.
func (r *Resolver) fail(state State, err error, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.group.Forget(CurrentLocationKey)
	r.state = state
	r.lastErr = err
	r.opts.Metrics.ObserveDetection(outcome)
}

// retryAction may be invoked from inside PromptPermissionDenied, so the retry runs on
// its own goroutine.
func (r *Resolver) retryAction() {
	go func() {
		if _, err := r.Retry(context.Background()); err != nil {
			r.logger.Debug("location retry did not resolve", "err", err.Error())
		}
	}()
}

// ExtractCity picks the most specific usable name from a reverse geocoding answer.
func ExtractCity(place provider.PlaceDescription) string {
	for _, candidate := range []string{
		place.Name,
		place.City,
		place.Town,
		place.Village,
		place.Locality,
		place.StateDistrict,
		place.County,
		place.State,
	} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}

	if first, _, _ := strings.Cut(place.DisplayName, ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	return UnknownLocation
}

type noopPrompter struct{}

func (noopPrompter) PromptPermissionDenied(func(), func()) {}

func (noopPrompter) NotifyFailure(string) {}
