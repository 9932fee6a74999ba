package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/elnajah/school-ledger/ledger"
)

// maxBodyBytes caps request bodies. The largest legitimate body is a bulk
// payment upsert for a few years of months.
const maxBodyBytes = 1 << 20

// requestValidator checks request DTOs and renders field errors in English
// using the json field names the front-end knows.
type requestValidator struct {
	validate   *validator.Validate
	translator ut.Translator
}

func newRequestValidator() *requestValidator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")

	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	validate.RegisterStructValidation(validatePaymentItem, PaymentItemDTO{})

	registerTranslation(validate, translator, "required", "{0} is required")
	registerTranslation(validate, translator, "oneof", "{0} must be one of: {1}")
	registerTranslation(validate, translator, "datetime", "{0} must be a date like {1}")

	return &requestValidator{validate: validate, translator: translator}
}

// registerTranslation overrides the message for tag. {0} is the field name
// and {1} the tag parameter.
func registerTranslation(validate *validator.Validate, translator ut.Translator, tag, text string) {
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field(), fe.Param())
			return s
		},
	)
}

// validatePaymentItem checks payment_date against the date layout for paid
// items only. An unpaid write clears the date whatever was sent.
func validatePaymentItem(sl validator.StructLevel) {
	item := sl.Current().Interface().(PaymentItemDTO)
	if item.Status != "paid" || item.PaymentDate == "" {
		return
	}
	if _, err := time.Parse(ledger.DateLayout, item.PaymentDate); err != nil {
		sl.ReportError(item.PaymentDate, "payment_date", "PaymentDate", "datetime", ledger.DateLayout)
	}
}

// fieldErrors is a validation failure keyed by json field path.
type fieldErrors map[string]string

func (f fieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for field, msg := range f {
		parts = append(parts, field+": "+msg)
	}
	return strings.Join(parts, "; ")
}

// Struct validates v and returns fieldErrors on failure.
func (rv *requestValidator) Struct(v any) error {
	err := rv.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(fieldErrors, len(verrs))
	for _, fe := range verrs {
		// Namespace is "CreateStudentRequest.initial_payment.month"; drop the type.
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		out[field] = fe.Translate(rv.translator)
	}
	return out
}

// decode reads a JSON body into dst and validates it.
func (rv *requestValidator) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &bodyError{err: err}
	}
	return rv.Struct(dst)
}

// bodyError is a request body that is not the expected JSON document.
type bodyError struct {
	err error
}

func (e *bodyError) Error() string { return fmt.Sprintf("malformed JSON body: %v", e.err) }
func (e *bodyError) Unwrap() error { return e.err }
