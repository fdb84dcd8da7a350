package utils

import "golang.org/x/crypto/bcrypt"

// Backup codes are short and only ever compared against a handful of stored
// hashes per request, so they use a lighter cost than passwords.
const backupCodeCost = 8

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func hashBackupCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), backupCodeCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
