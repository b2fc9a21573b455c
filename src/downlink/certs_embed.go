package downlink

import _ "embed"

// Embedded development TLS material for the downlink listener, the same
// embedded-PEM approach SPEC_FULL §4.4 requires. Operators deploying to
// production are expected to replace these via the relay's TLS material
// lookup path; these defaults exist so `start` has something to bind to
// out of the box, mirroring the teacher's habit of shipping safe defaults
// for every configurable knob.
var (
	//go:embed certs/server.crt
	defaultServerCert []byte

	//go:embed certs/server.key
	defaultServerKey []byte

	//go:embed certs/ca.crt
	defaultCA []byte
)
