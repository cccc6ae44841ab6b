package proximity

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"

	"github.com/clean-dependency-project/depbox/internal/endpoint"
)

// cityRecord is the subset of a GeoIP2/GeoLite2 City record we read.
type cityRecord struct {
	Location struct {
		Latitude  *float64 `maxminddb:"latitude"`
		Longitude *float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// MaxMindLocator looks addresses up in a MaxMind City database.
type MaxMindLocator struct {
	reader *maxminddb.Reader
}

// OpenMaxMind opens the database at path.
func OpenMaxMind(path string) (*MaxMindLocator, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database %s: %w", path, err)
	}
	return &MaxMindLocator{reader: reader}, nil
}

// Locate implements Locator. Addresses missing from the database, or
// cities without coordinates, report ok=false.
func (m *MaxMindLocator) Locate(_ context.Context, ip net.IP) (endpoint.Location, bool, error) {
	var record cityRecord
	if err := m.reader.Lookup(ip, &record); err != nil {
		return endpoint.Location{}, false, fmt.Errorf("failed to look up %s: %w", ip, err)
	}
	if record.Location.Latitude == nil || record.Location.Longitude == nil {
		return endpoint.Location{}, false, nil
	}
	return endpoint.Location{Lat: *record.Location.Latitude, Lon: *record.Location.Longitude}, true, nil
}

// Close releases the database.
func (m *MaxMindLocator) Close() error {
	return m.reader.Close()
}
