package geolocation

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied  = errors.New("location permission denied")
	ErrDeviceUnavailable = errors.New("device location unavailable")
)

// OtherDeviceError is any device failure other than a permission denial.
type OtherDeviceError struct {
	Err error
}

func (e *OtherDeviceError) Error() string {
	return fmt.Sprintf("device location failed: %v", e.Err)
}

func (e *OtherDeviceError) Unwrap() error {
	return e.Err
}

func (e *OtherDeviceError) Is(target error) bool {
	return target == ErrDeviceUnavailable
}
