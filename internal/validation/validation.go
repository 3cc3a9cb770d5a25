// Package validation holds request validation rules shared by the HTTP
// handlers and registers them with gin's validator engine.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// MinPasswordLength is the shortest accepted password, in characters.
const MinPasswordLength = 8

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

var (
	phoneRegex = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	slugRegex  = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,63}$`)

	registerOnce sync.Once
)

// Register installs the custom tags ("strongpassword", "phone", "slug") on
// gin's default validator. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("strongpassword", func(fl validator.FieldLevel) bool {
			return CheckPassword(fl.Field().String()) == nil
		})
		_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			return fl.Field().String() == "" || phoneRegex.MatchString(NormalizePhone(fl.Field().String()))
		})
		_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
			return slugRegex.MatchString(fl.Field().String())
		})
	})
}

// CheckPassword enforces length plus lowercase, uppercase, digit and symbol classes.
func CheckPassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		return fmt.Errorf("password must be at most %d bytes", MaxPasswordBytes)
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	switch {
	case !hasLower:
		return errors.New("password must contain at least one lowercase letter")
	case !hasUpper:
		return errors.New("password must contain at least one uppercase letter")
	case !hasDigit:
		return errors.New("password must contain at least one number")
	case !hasSymbol:
		return errors.New("password must contain at least one symbol")
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone strips spaces, dashes, dots and parentheses.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

// IsEmail reports whether s looks like an email rather than a phone number.
func IsEmail(s string) bool { return strings.Contains(s, "@") }

// ValidSlug reports whether s is an acceptable company slug.
func ValidSlug(s string) bool { return slugRegex.MatchString(s) }

// Message renders a binding error as a client-facing sentence.
func Message(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request body"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return strings.Join(msgs, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_without":
		return field + " or " + lowerFirst(fe.Param()) + " is required"
	case "email":
		return field + " must be a valid email address"
	case "phone":
		return field + " must be a valid phone number"
	case "strongpassword":
		if err := CheckPassword(fe.Value().(string)); err != nil {
			return err.Error()
		}
		return field + " is too weak"
	case "slug":
		return field + " must be 2-64 chars of lowercase letters, numbers and hyphens"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	case "uuid", "uuid4":
		return field + " must be a valid id"
	case "oneof":
		return field + " must be one of " + fe.Param()
	}
	return field + " is invalid"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
