package service

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/Dan9191/devsecops-api/internal/common"
	"github.com/go-playground/validator/v10"
)

// PasswordPolicy is the strength rule applied at registration.
type PasswordPolicy struct {
	MinLength    int
	MaxBytes     int
	RequireLower bool
	RequireUpper bool
	RequireDigit bool
	RequireOther bool
}

// DefaultPasswordPolicy: 12+ characters with all four character classes.
// MaxBytes is bcrypt's input limit.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:    12,
		MaxBytes:     72,
		RequireLower: true,
		RequireUpper: true,
		RequireDigit: true,
		RequireOther: true,
	}
}

// Check returns every rule pw breaks.
func (p PasswordPolicy) Check(pw string) []string {
	var lower, upper, digit, other bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsSpace(r):
			other = true
		}
	}

	var out []string
	if n := len([]rune(pw)); n < p.MinLength {
		out = append(out, fmt.Sprintf("Password must be at least %d characters", p.MinLength))
	}
	if p.MaxBytes > 0 && len(pw) > p.MaxBytes {
		out = append(out, fmt.Sprintf("Password must be at most %d bytes", p.MaxBytes))
	}
	if p.RequireLower && !lower {
		out = append(out, "Password must contain a lowercase letter")
	}
	if p.RequireUpper && !upper {
		out = append(out, "Password must contain an uppercase letter")
	}
	if p.RequireDigit && !digit {
		out = append(out, "Password must contain a number")
	}
	if p.RequireOther && !other {
		out = append(out, "Password must contain a special character")
	}
	return out
}

// RegisterInput is the registration payload. It deliberately has no role field.
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required"`
}

var fieldMessages = map[string]string{
	"Email":    "Valid email is required",
	"Password": "Password is required",
}

// Validator wraps go-playground/validator with the password policy.
type Validator struct {
	v      *validator.Validate
	policy PasswordPolicy
}

// NewValidator returns a Validator enforcing policy.
func NewValidator(policy PasswordPolicy) *Validator {
	return &Validator{
		v:      validator.New(validator.WithRequiredStructEnabled()),
		policy: policy,
	}
}

// ValidateRegistration collects all violations in in.
func (v *Validator) ValidateRegistration(in RegisterInput) error {
	verr := &common.ValidationError{}

	if err := v.v.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate registration: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.Add(strings.ToLower(fe.Field()), fieldMessages[fe.Field()])
		}
	}
	if in.Password != "" {
		for _, msg := range v.policy.Check(in.Password) {
			verr.Add("password", msg)
		}
	}
	return verr.OrNil()
}
