package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type ErrField struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

type Errs []ErrField

func (e Errs) Error() string {
	var b strings.Builder
	for i, ef := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ef.Field + ": " + ef.Msg)
	}
	return b.String()
}

var (
	once sync.Once
	v    *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("reference", func(fl validator.FieldLevel) bool {
			return referencePattern.MatchString(fl.Field().String())
		})
	})
	return v
}

var referencePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,63}$`)

// Amount reports whether d is a positive amount with at most two decimal
// places.
func Amount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(2))
}

// Struct validates s against its `validate` tags and flattens the result
// into Errs. Non-validation failures are returned unchanged.
func Struct(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(Errs, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ErrField{Field: fe.Field(), Msg: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "reference":
		return "must be 1-64 letters, digits or ._:-"
	case "gt", "gte", "min":
		return "must be >= " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "nefield":
		return "must differ from " + fe.Param()
	default:
		return "invalid (" + fe.Tag() + ")"
	}
}
