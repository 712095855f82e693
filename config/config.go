// Package config holds the typed configuration knobs for the REST client
// runtime. The core never reads environment variables or flags — it is a
// library, and an embedding application constructs one Config and threads it
// through.
package config

import (
	"net/netip"
	"time"

	"github.com/mullvad/restcore/addresscache"
)

// Config bundles every knob the runtime needs at construction time.
type Config struct {
	// DefaultAPIHostname is the logical Host header value for all requests.
	DefaultAPIHostname string
	// DefaultNetworkTimeout is the timeout value for a single transport round
	// trip. No package in this module reads it; NewDefaultTransport applies
	// its own 10-second timeout when given a nil client.
	DefaultNetworkTimeout time.Duration
	// DefaultAPIEndpoint is the built-in fallback used when both the disk
	// cache and bundled seed are unavailable.
	DefaultAPIEndpoint addresscache.Endpoint
	// AddressCacheUpdateInterval is the normal refresh cadence for a fresh
	// address list.
	AddressCacheUpdateInterval time.Duration
	// AddressCacheRetryInterval is the shorter cadence used after a failed
	// refresh attempt.
	AddressCacheRetryInterval time.Duration
}

// Default returns the fixed configuration values, with reasonable defaults
// for the knobs left to the embedder.
func Default() Config {
	return Config{
		DefaultAPIHostname:    "api.mullvad.net",
		DefaultNetworkTimeout: 10 * time.Second,
		DefaultAPIEndpoint: addresscache.Endpoint{
			IP:   netip.MustParseAddr("185.65.135.117"),
			Port: 443,
		},
		AddressCacheUpdateInterval: 24 * time.Hour,
		AddressCacheRetryInterval:  15 * time.Minute,
	}
}
