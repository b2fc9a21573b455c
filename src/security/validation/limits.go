// Package validation holds size guards shared by the config loader and the
// downlink HTTP API, so both reject oversized input before it reaches a
// decoder.
package validation

import "fmt"

// Downlink request limits.
const (
	MaxPublishBodySize = 1 << 20 // 1 MB, a generous ceiling for a single MQTT publish envelope
)

// Config file limits.
const (
	MaxConfigSize = 1 << 20 // 1 MB
)

// ValidatePublishBodySize checks if a /publish request body is within limits.
func ValidatePublishBodySize(size int) error {
	if size > MaxPublishBodySize {
		return fmt.Errorf("publish body exceeds maximum size: %d bytes (limit: %d)", size, MaxPublishBodySize)
	}
	return nil
}

// ValidateConfigContentSize checks if config file content size is within limits.
func ValidateConfigContentSize(size int) error {
	if size > MaxConfigSize {
		return fmt.Errorf("config content exceeds maximum size: %d bytes (limit: %d)", size, MaxConfigSize)
	}
	return nil
}
