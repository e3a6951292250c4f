package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"strings"
)

// Backup code alphabet avoids ambiguous characters (0/O, 1/I/L).
const backupAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const (
	backupGroupLen   = 4
	backupGroupCount = 2
)

// GenerateBackupCodes mints n single-use recovery codes. It returns both the
// plaintext codes (shown to the user exactly once) and their SHA-256 hashes
// for storage.
func GenerateBackupCodes(n int) ([]string, [][32]byte, error) {
	if n <= 0 {
		return nil, nil, errors.New("backup code count must be positive")
	}

	codes := make([]string, 0, n)
	hashes := make([][32]byte, 0, n)

	for i := 0; i < n; i++ {
		code, err := newBackupCode()
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, HashBackupCode(code))
	}

	return codes, hashes, nil
}

// HashBackupCode normalizes a submitted code (case, separators) and hashes
// it for comparison against stored values.
func HashBackupCode(code string) [32]byte {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
	return sha256.Sum256([]byte(normalized))
}

func newBackupCode() (string, error) {
	var b strings.Builder
	b.Grow(backupGroupLen*backupGroupCount + backupGroupCount - 1)
	for i := 0; i < backupGroupLen*backupGroupCount; i++ {
		if i > 0 && i%backupGroupLen == 0 {
			b.WriteByte('-')
		}
		n, err := randomIndex(len(backupAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(backupAlphabet[n])
	}
	return b.String(), nil
}

// randomIndex draws a uniform index in [0, n) by rejecting bytes from the
// uneven tail of the 256 range, so no alphabet character is favored.
func randomIndex(n int) (int, error) {
	limit := 256 - 256%n
	buf := make([]byte, 1)
	for {
		if _, err := rand.Read(buf); err != nil {
			return 0, err
		}
		if int(buf[0]) < limit {
			return int(buf[0]) % n, nil
		}
	}
}
