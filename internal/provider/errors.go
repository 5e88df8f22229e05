package provider

import (
	"fmt"

	"github.com/rmloveland/synergy/internal/config"
)

// MissingKeyError means the credential environment variable for a provider
// is unset. Detected before any request is built.
type MissingKeyError struct {
	Provider config.ProviderTag
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("Missing API key for provider '%s'", e.Provider)
}

// HTTPError is a non-2xx response. BodyPrefix carries at most the first 400
// bytes of the response body.
type HTTPError struct {
	Status     int
	BodyPrefix string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.BodyPrefix)
}

// ParseError means the response body was not valid JSON.
type ParseError struct {
	BodyPrefix string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse response as JSON: %s", e.BodyPrefix)
}

// SchemaError means the JSON parsed but the expected extraction path was
// absent (no choices, no candidates, empty content).
type SchemaError struct {
	Provider config.ProviderTag
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("response from provider '%s' did not match expected schema", e.Provider)
}

const bodyPrefixLen = 400

func bodyPrefix(body []byte) string {
	if len(body) > bodyPrefixLen {
		body = body[:bodyPrefixLen]
	}
	return string(body)
}
