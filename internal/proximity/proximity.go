// Package proximity picks the content origin closest to a client by
// great-circle distance between the client's geolocated address and the
// configured endpoint coordinates.
package proximity

import (
	"context"
	"log/slog"
	"math"
	"net"
	"sort"

	"github.com/clean-dependency-project/depbox/internal/endpoint"
)

// earthRadiusMeters is the mean earth radius used for haversine distances.
const earthRadiusMeters = 6371008.8

// UnknownDistance is used for endpoints without coordinates so they sort
// after every located endpoint.
var UnknownDistance = math.Inf(1)

// Locator resolves an IP address to coordinates. ok is false when the
// address is known but carries no coordinates.
type Locator interface {
	Locate(ctx context.Context, ip net.IP) (loc endpoint.Location, ok bool, err error)
}

// Selector orders endpoints by distance to a client address.
type Selector struct {
	locator Locator
	logger  *slog.Logger
}

// NewSelector creates a selector. A nil locator makes every lookup fall
// back to the first endpoint.
func NewSelector(locator Locator, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{locator: locator, logger: logger}
}

// Best returns the endpoint closest to ip. It returns the first endpoint
// of the set when the address cannot be located. Ties keep set order.
func (s *Selector) Best(ctx context.Context, set *endpoint.Set, ip net.IP) endpoint.Endpoint {
	client, ok := s.locate(ctx, ip)
	if !ok {
		return set.First()
	}

	all := set.All()
	best := all[0]
	bestDistance := distanceTo(client, best)
	for _, ep := range all[1:] {
		if d := distanceTo(client, ep); d < bestDistance {
			best, bestDistance = ep, d
		}
	}
	return best
}

// Sort returns the set ordered by ascending distance to ip. The original
// set is returned unchanged when the address cannot be located.
func (s *Selector) Sort(ctx context.Context, set *endpoint.Set, ip net.IP) *endpoint.Set {
	client, ok := s.locate(ctx, ip)
	if !ok {
		return set
	}

	all := set.All()
	sort.SliceStable(all, func(i, j int) bool {
		return distanceTo(client, all[i]) < distanceTo(client, all[j])
	})

	keys := make([]string, len(all))
	for i, ep := range all {
		keys[i] = ep.Key
	}
	sorted, err := set.Reorder(keys)
	if err != nil {
		s.logger.Warn("failed to reorder endpoints", "error", err)
		return set
	}
	return sorted
}

func (s *Selector) locate(ctx context.Context, ip net.IP) (endpoint.Location, bool) {
	if s.locator == nil || ip == nil {
		return endpoint.Location{}, false
	}

	loc, ok, err := s.locator.Locate(ctx, ip)
	if err != nil {
		s.logger.Debug("geolocation lookup failed", "ip", ip.String(), "error", err)
		return endpoint.Location{}, false
	}
	return loc, ok
}

func distanceTo(client endpoint.Location, ep endpoint.Endpoint) float64 {
	if ep.Location == nil {
		return UnknownDistance
	}
	return Distance(client, *ep.Location)
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b endpoint.Location) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
