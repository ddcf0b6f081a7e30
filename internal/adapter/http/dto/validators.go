package dto

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"htlc-escrow/internal/core/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var idempotencyKeyRe = regexp.MustCompile(`^[A-Za-z0-9_\-.:]+$`)

const tagRequiredForKind = "required_for_kind"

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(wireName)
		_ = v.RegisterValidation("idempotency_key", validateIdempotencyKey)
		_ = v.RegisterValidation("pubkey", validatePubkey)
		_ = v.RegisterValidation("payment_hash", validatePaymentHash)
		v.RegisterStructValidation(validateAddressQuery, AddressQuery{})
	}
}

// wireName reports a field by the name a client sends it under.
func wireName(f reflect.StructField) string {
	for _, key := range []string{"json", "form", "header"} {
		name, _, _ := strings.Cut(f.Tag.Get(key), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return ""
}

func validateIdempotencyKey(fl validator.FieldLevel) bool {
	return idempotencyKeyRe.MatchString(fl.Field().String())
}

// validatePubkey accepts base58 text decoding to exactly 32 bytes.
func validatePubkey(fl validator.FieldLevel) bool {
	_, err := domain.ParsePubkey(fl.Field().String())
	return err == nil
}

// validatePaymentHash accepts 64 hex characters.
func validatePaymentHash(fl validator.FieldLevel) bool {
	_, err := domain.ParseHash(fl.Field().String())
	return err == nil
}

// validateAddressQuery requires the parameters each derivation kind needs.
func validateAddressQuery(sl validator.StructLevel) {
	q := sl.Current().Interface().(AddressQuery)
	need := func(value, name, field string) {
		if value == "" {
			sl.ReportError(value, name, field, tagRequiredForKind, q.Kind)
		}
	}
	switch q.Kind {
	case "escrow":
		need(q.PaymentHash, "payment_hash", "PaymentHash")
	case "trade":
		need(q.Collector, "collector", "Collector")
	case "token":
		need(q.Owner, "owner", "Owner")
		need(q.Mint, "mint", "Mint")
	}
}

// ValidationMessage renders a binding error for the REQ_001 envelope. Field
// failures are listed by wire name; decoding errors pass through unchanged.
func ValidationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return strings.Join(msgs, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case tagRequiredForKind:
		return fmt.Sprintf("%s is required for kind=%s", field, fe.Param())
	case "pubkey":
		return field + " must be a base58 address"
	case "payment_hash":
		return field + " must be 64 hex characters"
	case "idempotency_key":
		return field + " may only contain letters, digits and _-.:"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s exceeds the maximum of %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
