package orderapi

import (
	"errors"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// FieldErrors maps a JSON field path to a human readable message.
type FieldErrors map[string]string

const MinPasswordLength = 8

var (
	validate = newValidator()

	postalCodeRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 \-]{1,9}$`)
	cardExpiryRe = regexp.MustCompile(`^(0[1-9]|1[0-2])/([0-9]{2})$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("postal_code", func(fl validator.FieldLevel) bool {
		return postalCodeRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("card_expiry", func(fl validator.FieldLevel) bool {
		return cardExpiryRe.MatchString(fl.Field().String())
	})
	return v
}

func NormalizeContact(c ContactInfo) ContactInfo {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.FullName = strings.TrimSpace(c.FullName)
	c.Phone = strings.TrimSpace(c.Phone)
	return c
}

func NormalizeShipping(s ShippingInfo) ShippingInfo {
	a := &s.Address
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.Region = strings.TrimSpace(a.Region)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	return s
}

// NormalizePayment trims fields and drops data that does not belong to the chosen method.
func NormalizePayment(p PaymentInfo) PaymentInfo {
	if p.Method != PaymentCard {
		p.Card = nil
	}
	if p.Method != PaymentRedirect {
		p.RedirectToken = ""
	}
	if p.Card != nil {
		c := *p.Card
		c.Number = digitsOnly(c.Number)
		c.Holder = strings.TrimSpace(c.Holder)
		c.Expiry = strings.TrimSpace(c.Expiry)
		c.CVV = strings.TrimSpace(c.CVV)
		p.Card = &c
	}
	p.RedirectToken = strings.TrimSpace(p.RedirectToken)
	p.BankReference = strings.TrimSpace(p.BankReference)
	return p
}

func ValidateContact(c ContactInfo) FieldErrors {
	errs := structErrors(c)
	if c.CreateAccount && len(c.Password) < MinPasswordLength {
		errs = errs.add("password", "must be at least "+strconv.Itoa(MinPasswordLength)+" characters")
	}
	return errs
}

func ValidateShipping(s ShippingInfo) FieldErrors {
	return structErrors(s)
}

// ValidatePayment checks the method-specific format of p. Card expiry is
// compared with now.
func ValidatePayment(p PaymentInfo, now time.Time) FieldErrors {
	errs := structErrors(p)
	switch p.Method {
	case PaymentCard:
		if p.Card == nil {
			return errs.add("card", "is required")
		}
		if _, ok := errs["card.expiry"]; !ok && cardExpired(p.Card.Expiry, now) {
			errs = errs.add("card.expiry", "card has expired")
		}
	case PaymentRedirect:
		if p.RedirectToken == "" {
			errs = errs.add("redirect_token", "is required")
		}
	case PaymentBankTransfer:
	}
	return errs
}

func structErrors(v any) FieldErrors {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{"_": err.Error()}
	}
	out := FieldErrors{}
	for _, fe := range verrs {
		out[fieldPath(fe.Namespace())] = message(fe)
	}
	return out
}

func (f FieldErrors) add(field, msg string) FieldErrors {
	if f == nil {
		f = FieldErrors{}
	}
	if _, exists := f[field]; !exists {
		f[field] = msg
	}
	return f
}

// fieldPath strips the top level type name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "e164":
		return "must be an international phone number like +525512345678"
	case "postal_code":
		return "must be a valid postal code"
	case "iso3166_1_alpha2":
		return "must be a two-letter country code"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "credit_card":
		return "must be a valid card number"
	case "card_expiry":
		return "must be in MM/YY format"
	case "numeric", "min", "max":
		if fe.Field() == "cvv" {
			return "must be 3 or 4 digits"
		}
		return "is invalid"
	default:
		return "is invalid"
	}
}

func cardExpired(expiry string, now time.Time) bool {
	m := cardExpiryRe.FindStringSubmatch(expiry)
	if m == nil {
		return true
	}
	month, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[2])
	firstInvalid := time.Date(2000+year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	return !now.UTC().Before(firstInvalid)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
