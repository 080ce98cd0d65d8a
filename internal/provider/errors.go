package provider

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every stage of a collection
var (
	// ErrRequiredParameter is returned when a task input is missing
	ErrRequiredParameter = errors.New("required parameter")

	// ErrInvalidParameter is returned when a task input cannot be parsed
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrEmptyCustomerTenants is returned when a customer scope has no tenants
	ErrEmptyCustomerTenants = errors.New("empty customer tenants")

	// ErrInvalidSecretType is returned for an unsupported secret type
	ErrInvalidSecretType = errors.New("invalid secret type")

	// ErrInvalidToken is returned when a credential cannot produce a token
	ErrInvalidToken = errors.New("invalid token")

	// ErrCollectorCallFailed marks a network or vendor error on a single call
	ErrCollectorCallFailed = errors.New("collector call failed")

	// ErrCollectionFailed marks a terminal failure that aborts the task
	ErrCollectionFailed = errors.New("collection failed")
)

// RequiredParameter reports a missing input identified by key
func RequiredParameter(key string) error {
	return fmt.Errorf("%w: %s", ErrRequiredParameter, key)
}

// InvalidParameter reports an input identified by key that does not match the expected format
func InvalidParameter(key, format string) error {
	return fmt.Errorf("%w: %s (expected %s)", ErrInvalidParameter, key, format)
}
