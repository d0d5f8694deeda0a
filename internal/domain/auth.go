package domain

import "time"

// Signed-request header names (spec §6).
const (
	HeaderMachine   = "X-Intercom-Machine"
	HeaderTimestamp = "X-Intercom-Ts"
	HeaderSignature = "X-Intercom-Sig"
)

// ReplayWindow is the maximum allowed clock skew between a signed request's
// timestamp and the verifier's wall clock (spec §4.1).
const ReplayWindow = 60 * time.Second

// DefaultPort is the default listen port for Hub and Daemon HTTP surfaces.
const DefaultPort = 7700
