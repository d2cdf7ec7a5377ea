package validate

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestEmail(t *testing.T) {
	valid := []string{"user@example.com", "a.b+c@mail.example.org", "x@y.io"}
	for _, s := range valid {
		assert.True(t, Email(s), s)
	}
	invalid := []string{"", "user", "user@", "@example.com", "user@example", "us er@example.com", "user@@example.com", "user@example."}
	for _, s := range invalid {
		assert.False(t, Email(s), s)
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizeEmail("  User@Example.COM "))
}

func TestStruct_CustomTag(t *testing.T) {
	type req struct {
		Email string `validate:"required,otp_email"`
		OTP   string `validate:"required"`
	}

	assert.NoError(t, Struct(req{Email: "user@example.com", OTP: "123456"}))

	err := Struct(req{Email: "nope", OTP: "123456"})
	assert.ErrorContains(t, err, "field 'Email' failed 'otp_email'")

	err = Struct(req{Email: "user@example.com"})
	assert.ErrorContains(t, err, "field 'OTP' failed 'required'")
}

func TestMustRegister_PanicsOnBadTag(t *testing.T) {
	ok := func(validator.FieldLevel) bool { return true }
	assert.Panics(t, func() { mustRegister(validator.New(), "", ok) })
	assert.NotPanics(t, func() { mustRegister(validator.New(), "always_ok", ok) })
}
