package records

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher turns a plain secret into its stored form.
type PasswordHasher interface {
	Hash(plain string) (string, error)
}

// BcryptHasher hashes with bcrypt. A zero Cost uses bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

// Hash implements PasswordHasher.
func (h BcryptHasher) Hash(plain string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// isSecretColumn matches the columns hashed on save.
func isSecretColumn(name string) bool {
	return strings.Contains(name, "password")
}

// isMaskedColumn matches the columns hidden from audit details. Session
// tokens are bearer credentials and the snapshot embeds one.
func isMaskedColumn(name string) bool {
	switch {
	case isSecretColumn(name):
		return true
	case name == "token", name == "snapshot", strings.HasSuffix(name, "_token"):
		return true
	}
	return false
}

// alreadyHashed recognises bcrypt output so a read-modify-write of a user
// record does not hash twice.
func alreadyHashed(v string) bool {
	if len(v) != 60 {
		return false
	}
	return strings.HasPrefix(v, "$2a$") || strings.HasPrefix(v, "$2b$") || strings.HasPrefix(v, "$2y$")
}
