package crypto

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
)

// The scheme that predates the Argon2id migration: MD5 over a shared fixed
// salt, stored as lowercase hex. Accounts still carrying it are upgraded in
// place on their first successful login; once no such credential remains in
// the account table this file can be deleted.

const legacySalt = "sgnl-2016"

// LegacyHash computes the legacy digest for password.
func LegacyHash(password string) string {
	sum := md5.Sum([]byte(legacySalt + password))
	return hex.EncodeToString(sum[:])
}

// LooksLegacy reports whether credential has the shape of a legacy digest.
func LooksLegacy(credential string) bool {
	if len(credential) != md5.Size*2 {
		return false
	}
	for _, c := range credential {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// VerifyLegacy checks password against a legacy digest.
func VerifyLegacy(password, credential string) bool {
	return subtle.ConstantTimeCompare([]byte(LegacyHash(password)), []byte(credential)) == 1
}
