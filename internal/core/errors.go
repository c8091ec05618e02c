// Package core defines the sentinel errors shared across swarm-dump's
// setup path.
package core

import "errors"

// Sentinel errors for startup and configuration failures. Per-packet
// anomalies are never reported through these; they are handled as
// skip conditions inside the decoder chain.
var (
	// Capture source errors
	ErrCaptureSourceRequired = errors.New("swarm-dump: no capture source configured")
	ErrCaptureOpenFailed     = errors.New("swarm-dump: capture source open failed")

	// Decoder setup errors
	ErrDecoderSetupFailed = errors.New("swarm-dump: decoder setup failed")

	// Session table errors
	ErrSessionTableCapacity = errors.New("swarm-dump: invalid session table capacity")

	// Configuration errors
	ErrConfigInvalid = errors.New("swarm-dump: invalid configuration")
)
