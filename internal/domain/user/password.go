package user

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
)

var hashCost = bcrypt.DefaultCost

func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func passwordMatches(hash, password string) bool {
	return hash != "" && bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// checkPassword applies the security.* global properties to a new password.
func checkPassword(ctx context.Context, gp base.GlobalProperties, u *User, password string) error {
	if minLen := gp.GetGlobalPropertyInt(ctx, base.GPPasswordMinLength, 8); len(password) < minLen {
		return apierr.Invalid("password", "error.password.length", "password must be at least %d characters", minLen)
	}
	if gp.GetGlobalPropertyBool(ctx, base.GPPasswordUpperAndLower, true) &&
		(!strings.ContainsFunc(password, unicode.IsUpper) || !strings.ContainsFunc(password, unicode.IsLower)) {
		return apierr.Invalid("password", "error.password.upperAndLowerCase", "password must contain upper and lower case letters")
	}
	if gp.GetGlobalPropertyBool(ctx, base.GPPasswordRequiresDigit, true) && !strings.ContainsFunc(password, unicode.IsDigit) {
		return apierr.Invalid("password", "error.password.digit", "password must contain a digit")
	}
	if gp.GetGlobalPropertyBool(ctx, base.GPPasswordCannotMatchUsername, true) {
		if strings.EqualFold(password, u.Username) || (u.SystemID != "" && strings.EqualFold(password, u.SystemID)) {
			return apierr.Invalid("password", "error.password.matchesUsername", "password cannot match the username or system id")
		}
	}
	return nil
}
