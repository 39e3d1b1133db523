package auth

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/crypto/bcrypt"

	"simjur/internal/simjur"
)

// password policy
var (
	pwdMinLen     = 8
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceText   = "password must not contain whitespace"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdMaxSim      = .7
	pwdAttrSimText = "password cannot be similar to user attributes"
)

// CheckPassword applies the password policy to pwd. attrs are user
// attributes (name, username, email) the password must not resemble.
// The returned error is a *simjur.ValidationError on the password field.
func CheckPassword(pwd string, attrs ...string) error {
	if msg := passwordProblem(pwd, attrs); msg != "" {
		return simjur.NewValidationError("invalid password", "password", msg)
	}
	return nil
}

func passwordProblem(pwd string, attrs []string) string {
	if len([]rune(pwd)) < pwdMinLen {
		return pwdMinLenText
	}

	digits := 0
	for _, r := range pwd {
		if unicode.IsSpace(r) {
			return pwdNoSpaceText
		}
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if digits == len([]rune(pwd)) {
		return pwdNotAllNumText
	}

	lpwd := strings.ToLower(pwd)
	for _, attr := range attrs {
		if attr == "" {
			continue
		}
		ratio := difflib.NewMatcher(strings.Split(lpwd, ""), strings.Split(strings.ToLower(attr), "")).QuickRatio()
		if ratio >= pwdMaxSim {
			return pwdAttrSimText
		}
	}
	return ""
}

// HashPassword hashes pwd with bcrypt at the given cost.
func HashPassword(pwd string, cost int) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), cost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	return hash, nil
}

// ComparePassword reports whether pwd matches hash.
func ComparePassword(hash []byte, pwd string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(pwd)) == nil
}
