package geolocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meghashyamc/placefinder/cache"
	"github.com/meghashyamc/placefinder/clock"
	"github.com/meghashyamc/placefinder/logger"
	"github.com/meghashyamc/placefinder/provider"
	"github.com/stretchr/testify/require"
)

var vancouver = Coordinate{Latitude: 49.2827, Longitude: -123.1207}

type fakeDevice struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	errs  []error
}

func (d *fakeDevice) RequestCurrentPosition(ctx context.Context) (Coordinate, error) {
	d.mu.Lock()
	d.calls++
	call := d.calls
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if call <= len(d.errs) && d.errs[call-1] != nil {
		return Coordinate{}, d.errs[call-1]
	}
	return vancouver, nil
}

func (d *fakeDevice) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeGeocoder struct {
	place provider.PlaceDescription
	err   error
}

func (g *fakeGeocoder) ResolveCoordinate(context.Context, float64, float64) (provider.PlaceDescription, error) {
	return g.place, g.err
}

// fakePrompter records prompts. When hold is set, each prompt signals shown and
// then blocks until hold is closed, like a page waiting on the user.
type fakePrompter struct {
	mu       sync.Mutex
	prompts  int
	failures []string
	retry    func()
	skip     func()

	shown chan struct{}
	hold  chan struct{}
}

func (p *fakePrompter) PromptPermissionDenied(retry func(), skip func()) {
	p.mu.Lock()
	p.prompts++
	p.retry = retry
	p.skip = skip
	p.mu.Unlock()
	p.wait()
}

func (p *fakePrompter) NotifyFailure(message string) {
	p.mu.Lock()
	p.failures = append(p.failures, message)
	p.mu.Unlock()
	p.wait()
}

func (p *fakePrompter) wait() {
	if p.hold == nil {
		return
	}
	p.shown <- struct{}{}
	<-p.hold
}

type fixture struct {
	resolver  *Resolver
	device    *fakeDevice
	geocoder  *fakeGeocoder
	prompter  *fakePrompter
	locations *cache.Memory[Resolution]
	clock     *clock.Manual
	resolved  *[]Resolution
}

func setupResolver(t *testing.T, device *fakeDevice, geocoder *fakeGeocoder) *fixture {
	t.Helper()
	manual := clock.NewManual(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	locations := cache.NewMemory[Resolution](cache.Options{Name: "location", TTL: 10 * time.Minute, Clock: manual})
	prompter := &fakePrompter{}
	var mu sync.Mutex
	resolved := []Resolution{}

	resolver := New(logger.Discard(), device, geocoder, prompter, locations, Options{
		Clock: manual,
		OnResolved: func(resolution Resolution) {
			mu.Lock()
			defer mu.Unlock()
			resolved = append(resolved, resolution)
		},
	})
	return &fixture{
		resolver:  resolver,
		device:    device,
		geocoder:  geocoder,
		prompter:  prompter,
		locations: locations,
		clock:     manual,
		resolved:  &resolved,
	}
}

func cityGeocoder(city string) *fakeGeocoder {
	return &fakeGeocoder{place: provider.PlaceDescription{City: city, State: "British Columbia"}}
}

func TestConcurrentCallersShareOneDetection(t *testing.T) {
	assert := require.New(t)
	device := &fakeDevice{gate: make(chan struct{})}
	f := setupResolver(t, device, cityGeocoder("Vancouver"))
	assert.Equal(Idle, f.resolver.State())

	const callers = 8
	var wg sync.WaitGroup
	cities := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cities[i], errs[i] = f.resolver.ResolveCurrentCity(context.Background())
		}(i)
	}

	assert.Eventually(func() bool { return device.callCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(Detecting, f.resolver.State())
	time.Sleep(20 * time.Millisecond)
	close(device.gate)
	wg.Wait()

	assert.Equal(1, device.callCount(), "exactly one device request for simultaneous callers")
	for i := 0; i < callers; i++ {
		assert.NoError(errs[i])
		assert.Equal("Vancouver", cities[i])
	}
	assert.Equal(Resolved, f.resolver.State())
	assert.Len(*f.resolved, 1)
	assert.Equal(vancouver, (*f.resolved)[0].Coordinate)
}

func TestResolvedCityIsReusedWithinTTL(t *testing.T) {
	assert := require.New(t)
	device := &fakeDevice{}
	f := setupResolver(t, device, cityGeocoder("Burnaby"))
	ctx := context.Background()

	city, err := f.resolver.ResolveCurrentCity(ctx)
	assert.NoError(err)
	assert.Equal("Burnaby", city)

	f.clock.Advance(9 * time.Minute)
	city, err = f.resolver.ResolveCurrentCity(ctx)
	assert.NoError(err)
	assert.Equal("Burnaby", city)
	assert.Equal(1, device.callCount(), "no device request inside the TTL window")

	f.clock.Advance(2 * time.Minute)
	_, err = f.resolver.ResolveCurrentCity(ctx)
	assert.NoError(err)
	assert.Equal(2, device.callCount(), "expired location is detected again")
	assert.Equal(2, f.resolver.Attempts())
}

func TestPermissionDenied(t *testing.T) {
	assert := require.New(t)
	device := &fakeDevice{errs: []error{ErrPermissionDenied}}
	f := setupResolver(t, device, cityGeocoder("Richmond"))
	ctx := context.Background()

	_, err := f.resolver.ResolveCurrentCity(ctx)
	assert.True(errors.Is(err, ErrPermissionDenied))
	assert.Equal(PermissionDenied, f.resolver.State())
	assert.Equal(0, f.locations.Len(), "a denial is never cached")
	assert.Equal(1, f.prompter.prompts)

	_, err = f.resolver.ResolveCurrentCity(ctx)
	assert.True(errors.Is(err, ErrPermissionDenied))
	assert.Equal(1, device.callCount(), "no automatic second prompt")
	assert.Equal(1, f.prompter.prompts)

	city, err := f.resolver.Retry(ctx)
	assert.NoError(err)
	assert.Equal("Richmond", city)
	assert.Equal(Resolved, f.resolver.State())
	assert.Equal(2, device.callCount())
}

func TestPromptActions(t *testing.T) {
	assert := require.New(t)
	device := &fakeDevice{errs: []error{ErrPermissionDenied}}
	f := setupResolver(t, device, cityGeocoder("Surrey"))

	_, err := f.resolver.ResolveCurrentCity(context.Background())
	assert.True(errors.Is(err, ErrPermissionDenied))

	f.prompter.skip()
	assert.True(f.resolver.Skipped())
	assert.Equal(PermissionDenied, f.resolver.State())

	f.prompter.retry()
	assert.Eventually(func() bool { return f.resolver.State() == Resolved }, time.Second, time.Millisecond)
	assert.False(f.resolver.Skipped())

	city, err := f.resolver.ResolveCurrentCity(context.Background())
	assert.NoError(err)
	assert.Equal("Surrey", city)
}

func TestDetectionFailures(t *testing.T) {
	type testCase struct {
		name     string
		device   *fakeDevice
		geocoder *fakeGeocoder
		wantErr  error
	}

	testCases := []testCase{
		{
			name:     "DeviceUnavailable",
			device:   &fakeDevice{errs: []error{errors.New("position unavailable")}},
			geocoder: cityGeocoder("Vancouver"),
			wantErr:  ErrDeviceUnavailable,
		},
		{
			name:     "ReverseGeocodingFailed",
			device:   &fakeDevice{},
			geocoder: &fakeGeocoder{err: &provider.ResolutionError{Err: errors.New("no usable address fields")}},
			wantErr:  provider.ErrResolution,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert := require.New(t)
			f := setupResolver(t, testCase.device, testCase.geocoder)

			_, err := f.resolver.ResolveCurrentCity(context.Background())
			assert.True(errors.Is(err, testCase.wantErr))
			assert.Equal(Failed, f.resolver.State())
			assert.Equal(0, f.locations.Len())
			assert.Equal([]string{FailureMessage}, f.prompter.failures)
			assert.Equal(0, f.prompter.prompts)

			_, err = f.resolver.ResolveCurrentCity(context.Background())
			assert.True(errors.Is(err, testCase.wantErr))
			assert.Equal(1, testCase.device.callCount())
			assert.Empty(*f.resolved)
		})
	}
}

func TestRetryWhilePromptIsShowingStartsNewAttempt(t *testing.T) {
	type testCase struct {
		name      string
		deviceErr error
		wantErr   error
	}

	testCases := []testCase{
		{
			name:      "DeviceFailure",
			deviceErr: errors.New("gps off"),
			wantErr:   ErrDeviceUnavailable,
		},
		{
			name:      "PermissionDenied",
			deviceErr: ErrPermissionDenied,
			wantErr:   ErrPermissionDenied,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert := require.New(t)
			device := &fakeDevice{errs: []error{testCase.deviceErr}}
			f := setupResolver(t, device, cityGeocoder("Vancouver"))
			f.prompter.shown = make(chan struct{}, 1)
			f.prompter.hold = make(chan struct{})

			first := make(chan error, 1)
			go func() {
				_, err := f.resolver.ResolveCurrentCity(context.Background())
				first <- err
			}()

			select {
			case <-f.prompter.shown:
			case <-time.After(2 * time.Second):
				t.Fatal("prompt was never shown")
			}

			type outcome struct {
				city string
				err  error
			}
			retried := make(chan outcome, 1)
			go func() {
				city, err := f.resolver.Retry(context.Background())
				retried <- outcome{city: city, err: err}
			}()

			select {
			case result := <-retried:
				assert.NoError(result.err)
				assert.Equal("Vancouver", result.city)
			case <-time.After(2 * time.Second):
				t.Fatal("retry joined the attempt that is still prompting")
			}
			assert.Equal(2, device.callCount())
			assert.Equal(Resolved, f.resolver.State())

			close(f.prompter.hold)
			assert.True(errors.Is(<-first, testCase.wantErr))
			assert.Equal(Resolved, f.resolver.State())
		})
	}
}

func TestCallerCancellationDoesNotAbortDetection(t *testing.T) {
	assert := require.New(t)
	device := &fakeDevice{gate: make(chan struct{})}
	f := setupResolver(t, device, cityGeocoder("Victoria"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.resolver.ResolveCurrentCity(ctx)
		done <- err
	}()

	assert.Eventually(func() bool { return device.callCount() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.True(errors.Is(<-done, context.Canceled))

	close(device.gate)
	assert.Eventually(func() bool { return f.resolver.State() == Resolved }, time.Second, time.Millisecond)

	city, err := f.resolver.ResolveCurrentCity(context.Background())
	assert.NoError(err)
	assert.Equal("Victoria", city)
	assert.Equal(1, device.callCount())
}

func TestExtractCity(t *testing.T) {
	type testCase struct {
		name  string
		place provider.PlaceDescription
		want  string
	}

	testCases := []testCase{
		{name: "NameFirst", place: provider.PlaceDescription{Name: "Granville Island", City: "Vancouver"}, want: "Granville Island"},
		{name: "City", place: provider.PlaceDescription{City: "Vancouver", Town: "Ignored"}, want: "Vancouver"},
		{name: "Town", place: provider.PlaceDescription{Town: "Squamish", Village: "Ignored"}, want: "Squamish"},
		{name: "Village", place: provider.PlaceDescription{Village: "Tofino", Locality: "Ignored"}, want: "Tofino"},
		{name: "Locality", place: provider.PlaceDescription{Locality: "Gibsons", StateDistrict: "Ignored"}, want: "Gibsons"},
		{name: "StateDistrict", place: provider.PlaceDescription{StateDistrict: "Metro Vancouver", County: "Ignored"}, want: "Metro Vancouver"},
		{name: "County", place: provider.PlaceDescription{County: "Capital Regional District", State: "British Columbia"}, want: "Capital Regional District"},
		{name: "State", place: provider.PlaceDescription{State: "British Columbia", DisplayName: "x, y"}, want: "British Columbia"},
		{name: "WhitespaceFieldsSkipped", place: provider.PlaceDescription{Name: "  ", City: "Delta"}, want: "Delta"},
		{name: "DisplayNameSegment", place: provider.PlaceDescription{DisplayName: " Whistler , British Columbia, Canada"}, want: "Whistler"},
		{name: "Unknown", place: provider.PlaceDescription{DisplayName: " , Canada"}, want: UnknownLocation},
		{name: "Empty", place: provider.PlaceDescription{}, want: UnknownLocation},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			require.Equal(t, testCase.want, ExtractCity(testCase.place))
		})
	}
}

func TestStateString(t *testing.T) {
	assert := require.New(t)
	assert.Equal("permission_denied", PermissionDenied.String())
	assert.Equal("state(42)", State(42).String())
}
