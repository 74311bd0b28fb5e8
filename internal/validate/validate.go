// Package validate holds the password and phone number policies and the
// struct validator used for request payloads.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/taskhub-app/apiserver/config"
)

const (
	TagRequired = "required"
	TagPhone    = "phone"
	TagPassword = "password"
)

// Failure is a single field that failed validation.
type Failure struct {
	Field string
	Tag   string
}

// Validator checks request structs against the configured policies.
type Validator struct {
	validate          *validator.Validate
	passwordMinLength int
	phone             *regexp.Regexp
}

func New(cfg config.PolicyConfig) (*Validator, error) {
	phone, err := regexp.Compile(cfg.PhonePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid phone pattern: %w", err)
	}

	v := &Validator{
		validate:          validator.New(validator.WithRequiredStructEnabled()),
		passwordMinLength: cfg.PasswordMinLength,
		phone:             phone,
	}

	if err := v.validate.RegisterValidation(TagPhone, func(fl validator.FieldLevel) bool {
		return v.Phone(fl.Field().String())
	}); err != nil {
		return nil, err
	}
	if err := v.validate.RegisterValidation(TagPassword, func(fl validator.FieldLevel) bool {
		return v.Password(fl.Field().String())
	}); err != nil {
		return nil, err
	}
	return v, nil
}

// Password reports whether password satisfies the policy: minimum length,
// at least one letter and one digit.
func (v *Validator) Password(password string) bool {
	if len(password) < v.passwordMinLength {
		return false
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

// Phone reports whether phone matches the configured pattern.
func (v *Validator) Phone(phone string) bool {
	return v.phone.MatchString(phone)
}

// Struct validates s and returns the failing fields, or nil.
func (v *Validator) Struct(s any) ([]Failure, error) {
	err := v.validate.Struct(s)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	failures := make([]Failure, 0, len(verrs))
	for _, fe := range verrs {
		failures = append(failures, Failure{Field: fe.Field(), Tag: fe.Tag()})
	}
	return failures, nil
}

// HasTag reports whether any failure carries tag.
func HasTag(failures []Failure, tag string) bool {
	for _, f := range failures {
		if f.Tag == tag {
			return true
		}
	}
	return false
}
