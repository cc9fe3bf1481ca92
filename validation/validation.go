package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator"
	"github.com/google/uuid"
	"github.com/meghashyamc/placefinder/logger"
	"github.com/meghashyamc/placefinder/provider"
)

const maxQueryLength = 200

type Validator struct {
	validator                *validator.Validate
	logger                   logger.Logger
	tagValidationDetailsOnce sync.Once
	tagValidationDetailsMap  map[string]tagValidationDetails
}

type tagValidationDetails struct {
	validatorFunc validator.Func
	err           error
}

func New(logger logger.Logger) (*Validator, error) {
	validator := &Validator{validator: validator.New(), logger: logger}
	validator.validator.RegisterTagNameFunc(useJSONFieldNames)
	if err := validator.registerCustomValidatorsForTags(); err != nil {
		return nil, err
	}

	return validator, nil
}

func (v *Validator) Validate(i any) error {

	if err := v.validator.Struct(i); err != nil {
		v.logger.Warn("validation failed", "err", err.Error())
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {

			tagValidationDetails, ok := v.getTagValidationDetails()[validationErrs[0].Tag()]
			if ok {
				return tagValidationDetails.err
			}

			switch validationErrs[0].Tag() {
			case "required":
				return fmt.Errorf("missing required field '%s'", validationErrs[0].Field())

			case "min", "max":
				return fmt.Errorf("value or length of field '%s' is not in the expected range", validationErrs[0].Field())

			case "len", "alpha":
				return fmt.Errorf("field '%s' must be a two letter country code", validationErrs[0].Field())

			}
		}
		return err
	}
	return nil
}
func (v *Validator) getTagValidationDetails() map[string]tagValidationDetails {
	v.tagValidationDetailsOnce.Do(func() {
		v.tagValidationDetailsMap = map[string]tagValidationDetails{
			"valid_query":      {validatorFunc: v.isValidQuery, err: errors.New("invalid query")},
			"valid_place_type": {validatorFunc: v.isValidPlaceType, err: errors.New("invalid place type, expected 'establishment' or 'address'")},
			"valid_session":    {validatorFunc: v.isValidSession, err: errors.New("invalid session id")},
		}
	})
	return v.tagValidationDetailsMap
}

func (v *Validator) registerCustomValidatorsForTags() error {

	tagValidationDetailsMap := v.getTagValidationDetails()

	for tag, tagValidationDetails := range tagValidationDetailsMap {
		if err := v.validator.RegisterValidation(tag, tagValidationDetails.validatorFunc); err != nil {
			v.logger.Error("failed to register customer validator function", "err", err.Error())
			return err
		}
	}
	return nil
}

func useJSONFieldNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

func (v *Validator) isValidQuery(fl validator.FieldLevel) bool {
	query := fl.Field().String()
	if len(query) == 0 {
		return false
	}
	if strings.TrimSpace(query) == "" {
		v.logger.Warn("query is empty", "query", query)
		return false
	}
	if utf8.RuneCountInString(query) > maxQueryLength {
		v.logger.Warn("query is too long", "length", utf8.RuneCountInString(query))
		return false
	}
	if !utf8.ValidString(query) {
		v.logger.Warn("query is not valid utf-8")
		return false
	}
	for _, r := range query {
		if unicode.IsControl(r) {
			v.logger.Warn("query has control characters", "query", query)
			return false
		}
	}

	return true
}

func (v *Validator) isValidPlaceType(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", provider.TypeEstablishment, provider.TypeAddress:
		return true
	}
	return false
}

func (v *Validator) isValidSession(fl validator.FieldLevel) bool {
	session := fl.Field().String()
	if _, err := uuid.Parse(session); err != nil {
		v.logger.Info("session id is not a uuid", "session", session)
		return false
	}
	return true
}
