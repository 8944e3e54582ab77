package discovery

import (
	"errors"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// searchParams are the inputs every fetch is checked against.
type searchParams struct {
	Lat        float64 `field:"lat" validate:"latitude"`
	Lng        float64 `field:"lng" validate:"longitude"`
	Radius     int     `field:"radius" validate:"min=100,max=50000"`
	Credential string  `field:"credential" validate:"required"`
}

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			if name := f.Tag.Get("field"); name != "" {
				return name
			}
			return f.Name
		})
	})
	return validate
}

// validateParams returns a *ValidationError for the first invalid field.
func validateParams(p searchParams) error {
	err := getValidator().Struct(p)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "request", Reason: err.Error()}
	}

	fe := fieldErrs[0]
	return &ValidationError{Field: fe.Field(), Reason: reason(fe)}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be >= " + fe.Param()
	case "max":
		return "must be <= " + fe.Param()
	case "latitude":
		return "must be between -90 and 90"
	case "longitude":
		return "must be between -180 and 180"
	default:
		return "failed " + fe.Tag()
	}
}
