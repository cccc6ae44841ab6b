// Package endpoint models the redundant content origins that serve the
// product catalog and the release files.
package endpoint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors for endpoint set construction.
var (
	ErrNoEndpoints      = errors.New("at least one endpoint must be configured")
	ErrEmptyKey         = errors.New("endpoint key cannot be empty")
	ErrEmptyURL         = errors.New("endpoint url cannot be empty")
	ErrDuplicateKey     = errors.New("duplicate endpoint key")
	ErrInvalidLocation  = errors.New("location must be in format 'lat lon'")
	ErrEndpointNotFound = errors.New("endpoint not found")
)

// Location is a geographic coordinate in decimal degrees.
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// String formats the location the same way ParseLocation reads it.
func (l Location) String() string {
	return strconv.FormatFloat(l.Lat, 'f', -1, 64) + " " + strconv.FormatFloat(l.Lon, 'f', -1, 64)
}

// ParseLocation parses a "lat lon" pair separated by whitespace.
func ParseLocation(s string) (Location, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Location{}, fmt.Errorf("%w: got %q", ErrInvalidLocation, s)
	}

	lat, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Location{}, fmt.Errorf("%w: latitude %q: %v", ErrInvalidLocation, fields[0], err)
	}
	lon, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Location{}, fmt.Errorf("%w: longitude %q: %v", ErrInvalidLocation, fields[1], err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Location{}, fmt.Errorf("%w: %q out of range", ErrInvalidLocation, s)
	}

	return Location{Lat: lat, Lon: lon}, nil
}

// Endpoint is a named content origin. It is immutable once loaded and
// identified by Key.
type Endpoint struct {
	Key         string    `json:"key"`
	DisplayName string    `json:"display_name"`
	URL         string    `json:"url"`
	Location    *Location `json:"location,omitempty"`
}

// Name returns the display name, or the key when no display name is set.
func (e Endpoint) Name() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.Key
}

// Set is an ordered collection of endpoints with unique keys. Insertion
// order is priority order for failover and the default display order.
type Set struct {
	endpoints []Endpoint
	index     map[string]int
}

// NewSet validates the endpoints and returns them as a Set.
func NewSet(endpoints ...Endpoint) (*Set, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	s := &Set{
		endpoints: make([]Endpoint, 0, len(endpoints)),
		index:     make(map[string]int, len(endpoints)),
	}
	for i, ep := range endpoints {
		if strings.TrimSpace(ep.Key) == "" {
			return nil, fmt.Errorf("endpoint %d: %w", i, ErrEmptyKey)
		}
		ep.URL = strings.TrimRight(strings.TrimSpace(ep.URL), "/")
		if ep.URL == "" {
			return nil, fmt.Errorf("endpoint %s: %w", ep.Key, ErrEmptyURL)
		}
		if _, exists := s.index[ep.Key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, ep.Key)
		}
		if ep.Location != nil {
			loc := *ep.Location
			ep.Location = &loc
		}
		s.index[ep.Key] = len(s.endpoints)
		s.endpoints = append(s.endpoints, ep)
	}

	return s, nil
}

// All returns a copy of the endpoints in priority order.
func (s *Set) All() []Endpoint {
	out := make([]Endpoint, len(s.endpoints))
	copy(out, s.endpoints)
	return out
}

// Len returns the number of endpoints.
func (s *Set) Len() int {
	return len(s.endpoints)
}

// First returns the highest-priority endpoint.
func (s *Set) First() Endpoint {
	return s.endpoints[0]
}

// Get returns the endpoint with the given key.
func (s *Set) Get(key string) (Endpoint, bool) {
	i, ok := s.index[key]
	if !ok {
		return Endpoint{}, false
	}
	return s.endpoints[i], true
}

// CacheKey identifies the set for caching: the concatenation of the
// endpoint URLs in priority order.
func (s *Set) CacheKey() string {
	var b strings.Builder
	for _, ep := range s.endpoints {
		b.WriteString(ep.URL)
	}
	return b.String()
}

// Reorder returns a new Set holding the same endpoints in the order of
// keys. Every key of the set must appear exactly once.
func (s *Set) Reorder(keys []string) (*Set, error) {
	if len(keys) != len(s.endpoints) {
		return nil, fmt.Errorf("reorder needs %d keys, got %d", len(s.endpoints), len(keys))
	}

	reordered := make([]Endpoint, 0, len(keys))
	for _, key := range keys {
		ep, ok := s.Get(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, key)
		}
		reordered = append(reordered, ep)
	}

	return NewSet(reordered...)
}
