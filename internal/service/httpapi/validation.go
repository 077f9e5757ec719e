package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

var validatorsOnce sync.Once

// registerValidators подключает к валидатору gin правила для decimal-полей:
// decimal.Decimal и decimal.NullDecimal проверяются как строки.
func registerValidators() {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterCustomTypeFunc(decimalAsString, decimal.Decimal{}, decimal.NullDecimal{})
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
		rules := []struct {
			tag string
			fn  validator.Func
		}{
			{"dec_gte0", func(fl validator.FieldLevel) bool {
				d, ok := parseDecimalField(fl)
				return ok && !d.IsNegative()
			}},
			{"dec_gt0", func(fl validator.FieldLevel) bool {
				d, ok := parseDecimalField(fl)
				return ok && d.IsPositive()
			}},
			{"dec_scale4", func(fl validator.FieldLevel) bool {
				d, ok := parseDecimalField(fl)
				return ok && domain.FitsMoneyScale(d)
			}},
		}
		for _, rule := range rules {
			if err := v.RegisterValidation(rule.tag, rule.fn); err != nil {
				panic(fmt.Sprintf("register %s validator: %v", rule.tag, err))
			}
		}
	})
}

func decimalAsString(field reflect.Value) interface{} {
	switch v := field.Interface().(type) {
	case decimal.Decimal:
		return v.String()
	case decimal.NullDecimal:
		if !v.Valid {
			return ""
		}
		return v.Decimal.String()
	}
	return nil
}

func parseDecimalField(fl validator.FieldLevel) (decimal.Decimal, bool) {
	raw := fl.Field().String()
	if raw == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// validationMessage превращает ошибки валидатора в одно читаемое сообщение.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return strings.Join(msgs, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must contain at least %s element(s)", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "dec_gte0":
		return fmt.Sprintf("%s must be a non-negative decimal", field)
	case "dec_gt0":
		return fmt.Sprintf("%s must be a positive decimal", field)
	case "dec_scale4":
		return fmt.Sprintf("%s must have at most %d decimal places", field, domain.MoneyScale)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
