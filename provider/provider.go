package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	TypeEstablishment = "establishment"
	TypeAddress       = "address"
)

var (
	ErrProvider   = errors.New("search provider failed")
	ErrResolution = errors.New("coordinate resolution failed")
)

// Candidate is one place suggested by the predictive search endpoint.
type Candidate struct {
	ID            string   `json:"id"`
	Description   string   `json:"description"`
	MainText      string   `json:"main_text,omitempty"`
	SecondaryText string   `json:"secondary_text,omitempty"`
	Types         []string `json:"types,omitempty"`
}

// Label is the short name shown to the user, falling back to the full description.
func (c Candidate) Label() string {
	if c.MainText != "" {
		return c.MainText
	}
	return c.Description
}

type PredictOptions struct {
	// CountryRestriction is an ISO 3166-1 alpha-2 code, e.g. "ca".
	CountryRestriction string
	// TypeFilter is TypeEstablishment, TypeAddress or empty for no filter.
	TypeFilter string
}

// PlaceDescription is a best-effort reverse geocoding answer.
type PlaceDescription struct {
	Name          string `json:"name,omitempty"`
	City          string `json:"city,omitempty"`
	Town          string `json:"town,omitempty"`
	Village       string `json:"village,omitempty"`
	Locality      string `json:"locality,omitempty"`
	StateDistrict string `json:"state_district,omitempty"`
	County        string `json:"county,omitempty"`
	State         string `json:"state,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
}

func (p PlaceDescription) usable() bool {
	for _, field := range []string{p.Name, p.City, p.Town, p.Village, p.Locality, p.StateDistrict, p.County, p.State, p.DisplayName} {
		if strings.TrimSpace(field) != "" {
			return true
		}
	}
	return false
}

type Predictor interface {
	Predict(ctx context.Context, text string, opts PredictOptions) ([]Candidate, error)
}

type CoordinateResolver interface {
	ResolveCoordinate(ctx context.Context, lat, lon float64) (PlaceDescription, error)
}

// ProviderError reports a transport failure or a non-success provider status.
// A successful response with zero results is not an error.
type ProviderError struct {
	Status string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("predict failed (status %s): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("predict failed (status %s)", e.Status)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

type ResolutionError struct {
	Latitude  float64
	Longitude float64
	Err       error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not resolve %.5f,%.5f: %v", e.Latitude, e.Longitude, e.Err)
	}
	return fmt.Sprintf("could not resolve %.5f,%.5f", e.Latitude, e.Longitude)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

func (e *ResolutionError) Is(target error) bool {
	return target == ErrResolution
}
