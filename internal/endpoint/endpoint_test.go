package endpoint

import (
	"errors"
	"testing"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Location
		wantErr bool
	}{
		{name: "space separated", input: "50.11 8.68", want: Location{Lat: 50.11, Lon: 8.68}},
		{name: "extra whitespace", input: "  -33.86\t151.2 ", want: Location{Lat: -33.86, Lon: 151.2}},
		{name: "single value", input: "50.11", wantErr: true},
		{name: "not a number", input: "north 8.68", wantErr: true},
		{name: "latitude out of range", input: "91 0", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocation(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidLocation) {
					t.Errorf("ParseLocation(%q) error = %v, want ErrInvalidLocation", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLocation(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseLocation(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewSet(t *testing.T) {
	tests := []struct {
		name      string
		endpoints []Endpoint
		wantErr   error
	}{
		{name: "empty", wantErr: ErrNoEndpoints},
		{name: "missing key", endpoints: []Endpoint{{URL: "https://a"}}, wantErr: ErrEmptyKey},
		{name: "missing url", endpoints: []Endpoint{{Key: "a"}}, wantErr: ErrEmptyURL},
		{
			name:      "duplicate key",
			endpoints: []Endpoint{{Key: "a", URL: "https://a"}, {Key: "a", URL: "https://b"}},
			wantErr:   ErrDuplicateKey,
		},
		{
			name:      "valid",
			endpoints: []Endpoint{{Key: "a", URL: "https://a/"}, {Key: "b", URL: "https://b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSet(tt.endpoints...)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("NewSet() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewSet() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetOrderAndLookup(t *testing.T) {
	set, err := NewSet(
		Endpoint{Key: "eu", DisplayName: "Europe", URL: "https://eu.example.org/"},
		Endpoint{Key: "us", URL: "https://us.example.org"},
	)
	if err != nil {
		t.Fatalf("NewSet() unexpected error: %v", err)
	}

	if got := set.First().Key; got != "eu" {
		t.Errorf("First().Key = %q, want %q", got, "eu")
	}
	if got := set.CacheKey(); got != "https://eu.example.org"+"https://us.example.org" {
		t.Errorf("CacheKey() = %q", got)
	}

	us, ok := set.Get("us")
	if !ok {
		t.Fatal("Get(us) not found")
	}
	if got := us.Name(); got != "us" {
		t.Errorf("Name() = %q, want key fallback %q", got, "us")
	}

	all := set.All()
	all[0].Key = "mutated"
	if set.First().Key != "eu" {
		t.Error("All() must return a copy")
	}
}

func TestSetReorder(t *testing.T) {
	set, err := NewSet(
		Endpoint{Key: "a", URL: "https://a"},
		Endpoint{Key: "b", URL: "https://b"},
	)
	if err != nil {
		t.Fatalf("NewSet() unexpected error: %v", err)
	}

	reordered, err := set.Reorder([]string{"b", "a"})
	if err != nil {
		t.Fatalf("Reorder() unexpected error: %v", err)
	}
	if got := reordered.First().Key; got != "b" {
		t.Errorf("Reorder().First().Key = %q, want %q", got, "b")
	}
	if set.First().Key != "a" {
		t.Error("Reorder() must not modify the original set")
	}

	if _, err := set.Reorder([]string{"a", "c"}); !errors.Is(err, ErrEndpointNotFound) {
		t.Errorf("Reorder() with unknown key error = %v, want ErrEndpointNotFound", err)
	}
}
