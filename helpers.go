package clavis

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/clavisauth/clavis/mfa"
	"github.com/clavisauth/clavis/password"
)

func policyContextFor(user *UserRecord, history []string) password.PolicyContext {
	return password.PolicyContext{
		Email:          user.Email,
		Name:           user.Name,
		PreviousHashes: history,
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func hexHash(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

// decodeTOTPSecret decodes the base32 secret as stored on the user record.
func decodeTOTPSecret(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, errors.New("empty totp secret")
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(encoded)
}

func hashBackupCandidate(code string) [32]byte {
	return mfa.HashBackupCode(code)
}
