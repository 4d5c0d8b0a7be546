package auth

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpIssuer = "LabPortal"

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateTOTPSecret creates a new base32 TOTP secret for username
func GenerateTOTPSecret(username string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: username,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	return key.Secret(), nil
}

// ValidateTOTP checks code against secret at t, allowing one period of
// clock skew
func ValidateTOTP(code, secret string, t time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, t.UTC(), totpOpts)
	return err == nil && ok
}

// TOTPCode returns the code for secret at t
func TOTPCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), totpOpts)
}
