package dht

import "time"

// Protocol-wide constants from the Kademlia paper, as defaulted in Config.
const (
	// B is the bit width of the fingerprint space.
	B = 160
	// K is the bucket capacity and lookup result size.
	K = 20
	// Alpha is the lookup and iterativeStore fan-out.
	Alpha = 3
	// MaxUnimprovedRefreshes is the default early-stop threshold for refresh().
	MaxUnimprovedRefreshes = 4
)

// Config holds the tunable timings and limits of the DHT core. The zero
// value is not usable; construct with DefaultConfig and override fields
// as needed, or load overrides with LoadConfig.
type Config struct {
	// Alpha is the lookup parallelism. Defaults to Alpha (3).
	Alpha int
	// K is the bucket capacity and lookup result size. Defaults to K (20).
	K int
	// ResponseTimeout is owned by the transport layer; the core never
	// enforces it directly but exposes it so an Outbox implementation can
	// share the same constant table.
	ResponseTimeout time.Duration
	// Refresh is how often a bucket must have been looked up in before
	// refresh() generates a random key in its range.
	Refresh time.Duration
	// Replicate is how often a non-local item must be restored before
	// iterativeStore re-pushes it.
	Replicate time.Duration
	// Republish is how often a local item must be restored before
	// iterativeStore re-pushes it.
	Republish time.Duration
	// Expire is how old an item may get before expire() deletes it.
	Expire time.Duration
	// MaxUnimprovedRefreshes bounds how many consecutive refresh() rounds
	// may discover nothing new before the round stops early.
	MaxUnimprovedRefreshes int
	// ConvoyJitter is the maximum extra random delay added to each timer
	// firing to avoid synchronized bursts across a fleet of nodes.
	ConvoyJitter time.Duration
	// PingFreshness is how long a responded-true ping entry is trusted
	// before UpdateContact will re-probe a bucket's head again.
	PingFreshness time.Duration
}

// DefaultConfig returns the standard Kademlia tuning defaults.
func DefaultConfig() Config {
	return Config{
		Alpha:                  Alpha,
		K:                      K,
		ResponseTimeout:        10 * time.Second,
		Refresh:                time.Hour,
		Replicate:              time.Hour,
		Republish:              24 * time.Hour,
		Expire:                 24 * time.Hour,
		MaxUnimprovedRefreshes: MaxUnimprovedRefreshes,
		ConvoyJitter:           30 * time.Minute,
		PingFreshness:          10 * time.Minute,
	}
}
