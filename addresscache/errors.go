package addresscache

import (
	"net/netip"
	"time"

	"github.com/mullvad/restcore/resterr"
)

const rfc3339Nano = time.RFC3339Nano

// epoch is epoch-0, used as the UpdatedAt of a snapshot that has never been
// successfully refreshed.
var epoch = time.Unix(0, 0).UTC()

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return epoch, nil
	}
	return time.Parse(rfc3339Nano, s)
}

func parseIP(s string) (netip.Addr, error) {
	return netip.ParseAddr(s)
}

func readCacheErr(cause error) error    { return resterr.ReadCache(cause) }
func decodeCacheErr(cause error) error  { return resterr.DecodeCache(cause) }
func readBundleErr(cause error) error   { return resterr.ReadBundle(cause) }
func decodeBundleErr(cause error) error { return resterr.DecodeBundle(cause) }
func encodeCacheErr(cause error) error  { return resterr.EncodeCache(cause) }
func writeCacheErr(cause error) error   { return resterr.WriteCache(cause) }
