package auth

import "strings"

// FakeInsecureHasher stores passwords as "$fake$<plaintext>" so twin tests
// avoid bcrypt's cost. Never use it outside tests.
type FakeInsecureHasher struct{}

func (FakeInsecureHasher) HashPassword(password string) (string, error) {
	return "$fake$" + password, nil
}

func (FakeInsecureHasher) VerifyPassword(password, encodedHash string) bool {
	stored, ok := strings.CutPrefix(encodedHash, "$fake$")
	return ok && stored == password
}
