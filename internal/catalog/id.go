package catalog

import "github.com/google/uuid"

// IDProvider generates identifiers for new catalog records.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider returns an IDProvider backed by random UUIDs.
func NewUUIDProvider() IDProvider {
	return uuidProvider{}
}

func (uuidProvider) NewID() (string, error) {
	generated, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return generated.String(), nil
}
