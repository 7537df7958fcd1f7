package transport

import (
	"errors"
	"strings"
	"unicode"
)

const specialChars = `!@#$%^&*(),.?":{}|<>`

// checkPassword enforces the password complexity rules. Each violation
// has its own message so the response names the failed rule.
func checkPassword(value interface{}) error {
	password, _ := value.(string)

	if len(password) < 5 {
		return errors.New("must be at least 5 characters long")
	}

	var hasUpper, hasLower, hasDigit, hasSpecial, hasSpace bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(specialChars, r):
			hasSpecial = true
		}
		if unicode.IsSpace(r) {
			hasSpace = true
		}
	}

	switch {
	case !hasUpper:
		return errors.New("must contain at least one uppercase letter")
	case !hasLower:
		return errors.New("must contain at least one lowercase letter")
	case !hasDigit:
		return errors.New("must contain at least one number")
	case !hasSpecial:
		return errors.New("must contain at least one special character")
	case hasSpace:
		return errors.New("must not contain spaces")
	}
	return nil
}
