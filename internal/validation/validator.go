// Package validation applies struct-tag validation to ingress requests
// before they are converted into engine.Command values, catching
// malformed numeric fields the wire codec's own tag parsing wouldn't.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator with the exchange's custom
// tags and error formatting.
type Validator struct {
	validator *validator.Validate
}

// NewValidator builds a Validator with the exchange's custom tags
// registered.
func NewValidator() *Validator {
	v := validator.New()

	v.RegisterValidation("symbol", validateSymbol)
	v.RegisterValidation("price", validatePrice)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validator: v}
}

// Validate validates a struct, returning a single joined error message
// built from every failing field.
func (v *Validator) Validate(i interface{}) error {
	if err := v.validator.Struct(i); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			var msgs []string
			for _, e := range validationErrors {
				msgs = append(msgs, formatValidationError(e))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func formatValidationError(e validator.FieldError) string {
	field := e.Field()
	tag := e.Tag()
	param := e.Param()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	case "symbol":
		return fmt.Sprintf("%s must be a valid instrument symbol", field)
	case "price":
		return fmt.Sprintf("%s must be a positive price", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}

var symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9._-]{0,15}$`)

// validateSymbol accepts exchange-style tickers: 1-16 characters,
// starting with a letter, uppercase alphanumeric plus . _ -.
func validateSymbol(fl validator.FieldLevel) bool {
	return symbolPattern.MatchString(fl.Field().String())
}

func validatePrice(fl validator.FieldLevel) bool {
	return fl.Field().Float() > 0
}

// NewOrderRequest is the ingress-facing shape validated after the wire
// codec has parsed a frame into an engine.Command but before that
// command reaches the matching engine: the codec only checks that
// fields parse, not that they satisfy exchange-wide business rules
// (symbol format, positive price).
type NewOrderRequest struct {
	Symbol      string  `json:"symbol" validate:"required,symbol"`
	Account     string  `json:"account" validate:"required"`
	Side        string  `json:"side" validate:"required,oneof=BUY SELL"`
	OrdType     string  `json:"ord_type" validate:"required,oneof=MARKET LIMIT STOP STOP_LIMIT"`
	TimeInForce string  `json:"tif" validate:"required,oneof=DAY IOC FOK"`
	Quantity    uint64  `json:"qty" validate:"required,min=1"`
	Price       float64 `json:"price" validate:"omitempty,price"`
	StopPx      float64 `json:"stop_px" validate:"omitempty,price"`
}

// CreateInstrumentRequest validates a UCI frame's decoded fields.
type CreateInstrumentRequest struct {
	Symbol string `json:"symbol" validate:"required,symbol"`
}
