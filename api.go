package cfddns

import (
	"context"
	"net/netip"
)

type Resolver interface {
	Resolve(context.Context) ([]netip.Addr, error)
}

// ResolverFunc adapts an ordinary function to the Resolver interface.
type ResolverFunc func(context.Context) ([]netip.Addr, error)

func (f ResolverFunc) Resolve(ctx context.Context) ([]netip.Addr, error) { return f(ctx) }

// RecordClient is the subset of a DNS provider API needed to keep records in sync.
type RecordClient interface {
	ListRecords(ctx context.Context, name, recordType string) ([]Record, error)
	UpdateRecord(ctx context.Context, id string, r Record) error
	CreateRecord(ctx context.Context, r Record) error
}

// Record is a DNS record as seen by the provider.
type Record struct {
	ID      string
	Name    string
	Type    string
	Content string
	TTL     int
	Proxied bool
}

const (
	TypeA    = "A"
	TypeAAAA = "AAAA"
)

// family reports whether a belongs to the address family of recordType.
func family(recordType string, a netip.Addr) bool {
	switch recordType {
	case TypeA:
		return a.Is4() || a.Is4In6()
	case TypeAAAA:
		return a.Is6() && !a.Is4In6()
	}
	return false
}

// recordType returns the record type that can hold a, or "" for an invalid address.
func recordType(a netip.Addr) string {
	if a.Is4() || a.Is4In6() {
		return TypeA
	}
	if a.Is6() {
		return TypeAAAA
	}
	return ""
}
