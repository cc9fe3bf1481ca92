package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/meghashyamc/placefinder/dataset"
	"github.com/meghashyamc/placefinder/logger"
)

// ChainedResolver asks Secondary only when Primary fails with a ResolutionError.
type ChainedResolver struct {
	Primary   CoordinateResolver
	Secondary CoordinateResolver
	Logger    logger.Logger
}

func (r *ChainedResolver) ResolveCoordinate(ctx context.Context, lat, lon float64) (PlaceDescription, error) {
	place, err := r.Primary.ResolveCoordinate(ctx, lat, lon)
	if err == nil || r.Secondary == nil || !errors.Is(err, ErrResolution) || ctx.Err() != nil {
		return place, err
	}

	if r.Logger != nil {
		r.Logger.Info("primary coordinate resolver failed, trying secondary", "err", err.Error())
	}
	place, secondaryErr := r.Secondary.ResolveCoordinate(ctx, lat, lon)
	if secondaryErr != nil {
		return PlaceDescription{}, fmt.Errorf("%w (secondary: %v)", err, secondaryErr)
	}
	return place, nil
}

// DatasetResolver answers from the bundled locality list, without any network access.
type DatasetResolver struct {
	Dataset *dataset.Dataset
}

func (r *DatasetResolver) ResolveCoordinate(_ context.Context, lat, lon float64) (PlaceDescription, error) {
	record, ok := r.Dataset.Nearest(lat, lon)
	if !ok {
		return PlaceDescription{}, &ResolutionError{Latitude: lat, Longitude: lon, Err: errors.New("no known locality nearby")}
	}
	return PlaceDescription{
		City:        record.DisplayLabel,
		State:       record.Region,
		DisplayName: record.DisplayLabel + ", " + record.Region,
	}, nil
}
