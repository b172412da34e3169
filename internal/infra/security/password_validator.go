package security

import (
	"fmt"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

const (
	minPasswordLength = 10
	minStrengthScore  = 3
)

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string
	Message string
}

// Error implements error for PasswordValidationError.
func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// ValidatePassword applies the signup password policy: a length floor plus a
// zxcvbn strength estimate fed with user-supplied context so passwords derived
// from the email are penalized.
func ValidatePassword(password string, userInputs ...string) error {
	if len([]rune(password)) < minPasswordLength {
		return &PasswordValidationError{
			Code:    "min_length",
			Message: fmt.Sprintf("password must be at least %d characters long", minPasswordLength),
		}
	}

	result := zxcvbn.PasswordStrength(password, userInputs)
	if result.Score < minStrengthScore {
		return &PasswordValidationError{
			Code:    "weak_password",
			Message: "password is too guessable; use a longer or less common phrase",
		}
	}

	return nil
}
