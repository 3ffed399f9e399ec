package ids

import "github.com/google/uuid"

// NewToken returns a cryptographically random UUIDv4 string.
func NewToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
