package fetchcache

import (
	"strings"
	"testing"

	"github.com/Sternrassler/pagestore/pkg/fingerprint"
	"github.com/Sternrassler/pagestore/pkg/pagination"
)

func TestPageKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  PageKey
		want string
	}{
		{
			name: "default partition",
			key:  PageKey{Resource: "orders", Fingerprint: "default", PageSize: 10, Page: 2},
			want: "pagestore:orders:default:size=10:page=2",
		},
		{
			name: "fingerprinted arguments",
			key:  PageKey{Resource: "users", Fingerprint: "0a1b2c", PageSize: 25, Page: 1},
			want: "pagestore:users:0a1b2c:size=25:page=1",
		},
		{
			name: "resource with separator and glob characters",
			key:  PageKey{Resource: "a:b*[x]", Fingerprint: "default", PageSize: 10, Page: 1},
			want: "pagestore:a%3Ab%2A%5Bx%5D:default:size=10:page=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeyFor(t *testing.T) {
	key, err := KeyFor("orders", pagination.FetchRequest{Page: 3, PageSize: 5})
	if err != nil {
		t.Fatalf("KeyFor() error = %v", err)
	}
	if key.Fingerprint != "default" {
		t.Errorf("Fingerprint = %q, want default", key.Fingerprint)
	}

	args := map[string]any{"region": 10000002, "type": "sell"}
	key, err = KeyFor("orders", pagination.FetchRequest{Page: 3, PageSize: 5, Args: args})
	if err != nil {
		t.Fatalf("KeyFor() error = %v", err)
	}
	if want := fingerprint.MustOf(args); key.Fingerprint != want {
		t.Errorf("Fingerprint = %q, want %q", key.Fingerprint, want)
	}
	if !strings.HasPrefix(key.String(), resourcePrefix("orders")) {
		t.Errorf("key %q does not start with resource prefix", key.String())
	}

	if _, err := KeyFor("orders", pagination.FetchRequest{Args: func() {}}); err == nil {
		t.Error("KeyFor() expected error for unencodable args")
	}
}

func TestResourcePrefix_DoesNotMatchSimilarNames(t *testing.T) {
	key := PageKey{Resource: "orders-archive", Fingerprint: "default", PageSize: 10, Page: 1}
	if strings.HasPrefix(key.String(), resourcePrefix("orders")) {
		t.Errorf("key %q matched prefix of another resource", key.String())
	}
}

func TestResourcePrefix_EscapesSpecialNames(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		other    string
	}{
		{name: "separator", resource: "a", other: "a:b"},
		{name: "star", resource: "*", other: "orders"},
		{name: "character class", resource: "[o]rders", other: "orders"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix := resourcePrefix(tt.resource)
			if strings.ContainsAny(strings.TrimSuffix(prefix, ":"), "*?[]\\") {
				t.Errorf("prefix %q contains glob metacharacters", prefix)
			}
			key := PageKey{Resource: tt.other, Fingerprint: "default", PageSize: 10, Page: 1}
			if strings.HasPrefix(key.String(), prefix) {
				t.Errorf("key %q of %q matched prefix of %q", key.String(), tt.other, tt.resource)
			}
		})
	}
}
