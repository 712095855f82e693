package addresscache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// diskRecord is the on-disk cache file shape: a self-describing record with
// updatedAt and endpoints. endpointRecord keeps ip/port as plain
// strings/ints so the format never depends on netip's internal
// representation.
type diskRecord struct {
	UpdatedAt string           `json:"updatedAt"`
	Endpoints []endpointRecord `json:"endpoints"`
}

type endpointRecord struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

// bundleRecord is the bundled seed file shape: a bare sequence of endpoint
// records, no updatedAt.
type bundleRecord []endpointRecord

func toDiskRecord(s Snapshot) diskRecord {
	rec := diskRecord{
		UpdatedAt: s.UpdatedAt.Format(rfc3339Nano),
		Endpoints: make([]endpointRecord, len(s.Endpoints)),
	}
	for i, e := range s.Endpoints {
		rec.Endpoints[i] = endpointRecord{IP: e.IP.String(), Port: e.Port}
	}
	return rec
}

func (r diskRecord) toSnapshot() (Snapshot, error) {
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parsing updatedAt: %w", err)
	}

	endpoints, err := toEndpoints(r.Endpoints)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{UpdatedAt: updatedAt, Endpoints: endpoints}, nil
}

func (r bundleRecord) toEndpoints() ([]Endpoint, error) {
	return toEndpoints(r)
}

func toEndpoints(recs []endpointRecord) ([]Endpoint, error) {
	endpoints := make([]Endpoint, len(recs))
	for i, rec := range recs {
		ip, err := parseIP(rec.IP)
		if err != nil {
			return nil, fmt.Errorf("parsing endpoint %d ip %q: %w", i, rec.IP, err)
		}
		endpoints[i] = Endpoint{IP: ip, Port: rec.Port}
	}
	return endpoints, nil
}

// store is the disk persistence side of the address cache: read the
// current file, read the bundled seed, and write atomically.
//
// Writes marshal, write to a temp path alongside the destination, then
// os.Rename, which is atomic on the same filesystem and so can never leave
// a torn file behind even if the process is killed mid-write.
type store struct {
	cachePath  string
	bundlePath string
}

func newStore(cachePath, bundlePath string) *store {
	return &store{cachePath: cachePath, bundlePath: bundlePath}
}

// readDisk loads the persisted snapshot. Returns an error wrapping
// resterr.ReadCache or resterr.DecodeCache on failure; the caller (bootstrap)
// treats any error as "fall through to the next source."
func (s *store) readDisk() (Snapshot, error) {
	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		return Snapshot{}, readCacheErr(err)
	}

	var rec diskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Snapshot{}, decodeCacheErr(err)
	}

	snap, err := rec.toSnapshot()
	if err != nil {
		return Snapshot{}, decodeCacheErr(err)
	}

	return snap, nil
}

// readBundle loads the bundled seed file, always returning updatedAt =
// epoch-0 (the bundle carries no timestamp).
func (s *store) readBundle() (Snapshot, error) {
	data, err := os.ReadFile(s.bundlePath)
	if err != nil {
		return Snapshot{}, readBundleErr(err)
	}

	var rec bundleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Snapshot{}, decodeBundleErr(err)
	}

	endpoints, err := rec.toEndpoints()
	if err != nil {
		return Snapshot{}, decodeBundleErr(err)
	}

	return Snapshot{UpdatedAt: epoch, Endpoints: endpoints}, nil
}

// write persists snap atomically: write-to-temp then rename. The parent
// directory is created on demand so first-run bootstrap never fails just
// because its directory doesn't exist yet.
func (s *store) write(snap Snapshot) error {
	data, err := json.MarshalIndent(toDiskRecord(snap), "", "  ")
	if err != nil {
		return encodeCacheErr(err)
	}

	if err := os.MkdirAll(filepath.Dir(s.cachePath), 0o700); err != nil {
		return writeCacheErr(err)
	}

	tmpPath := s.cachePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return writeCacheErr(err)
	}

	if err := os.Rename(tmpPath, s.cachePath); err != nil {
		_ = os.Remove(tmpPath)
		return writeCacheErr(err)
	}

	return nil
}
