// Package domain contains the core entities of the zone synchronization engine.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RecordType represents the type of a DNS record (e.g., A, AAAA, MX).
type RecordType string

const (
	// TypeA represents an IPv4 address record.
	TypeA RecordType = "A"
	// TypeAAAA represents an IPv6 address record.
	TypeAAAA RecordType = "AAAA"
	// TypeCNAME represents a canonical name record.
	TypeCNAME RecordType = "CNAME"
	// TypeMX represents a mail exchange record.
	TypeMX RecordType = "MX"
	// TypeTXT represents a text record.
	TypeTXT RecordType = "TXT"
	// TypeNS represents a name server record.
	TypeNS RecordType = "NS"
	// TypeSOA represents a start of authority record.
	TypeSOA RecordType = "SOA"
	// TypePTR represents a pointer record.
	TypePTR RecordType = "PTR"
	// TypeSRV represents a service locator record (RFC 2782).
	TypeSRV RecordType = "SRV"
	// TypeCAA represents a certification authority authorization record.
	TypeCAA RecordType = "CAA"
	// TypeAPL represents an address prefix list record (RFC 3123).
	TypeAPL RecordType = "APL"
	// TypeNSEC3PARAM carries the NSEC3 parameters of a signed zone.
	TypeNSEC3PARAM RecordType = "NSEC3PARAM"
	// TypeRRClone is a pseudo type that expands into copies of another
	// name's records at resolution time. It never reaches a zone file.
	TypeRRClone RecordType = "RRCLONE"
)

// HasPriority reports whether the type carries a separate priority field.
func (t RecordType) HasPriority() bool {
	return t == TypeMX || t == TypeSRV
}

// HostnameContent reports whether the content of the type is (or ends with)
// a host name that must be fully qualified in a zone file.
func (t RecordType) HostnameContent() bool {
	switch t {
	case TypeCNAME, TypeNS, TypeMX, TypeSRV, TypePTR:
		return true
	}
	return false
}

// Domain is a hosted domain as stored by the persistence layer.
type Domain struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"` // e.g., example.com
	Disabled    bool      `json:"disabled"`
	DefaultTTL  int       `json:"default_ttl"`
	NSEC3Params *string   `json:"nsec3params,omitempty"`
	AliasOf     *int64    `json:"alias_of,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Record represents a stored resource record belonging to a Domain.
type Record struct {
	ID        int64      `json:"id"`
	DomainID  int64      `json:"domain_id"`
	Name      string     `json:"name"` // e.g., www.example.com
	Type      RecordType `json:"type"`
	Content   string     `json:"content"`
	TTL       int        `json:"ttl"`
	Priority  *int       `json:"priority,omitempty"` // For MX, SRV records
	Disabled  bool       `json:"disabled"`
	ChangedAt time.Time  `json:"changed_at"`
}

// SOA holds the start of authority fields of a zone.
type SOA struct {
	PrimaryNS string `json:"primary_ns"`
	Admin     string `json:"admin"`
	Serial    uint32 `json:"serial"`
	Refresh   uint32 `json:"refresh"`
	Retry     uint32 `json:"retry"`
	Expire    uint32 `json:"expire"`
	MinTTL    uint32 `json:"min_ttl"`
}

// Content renders the SOA the way it is stored in a record's content column:
// "primary admin serial refresh retry expire minttl".
func (s SOA) Content() string {
	return fmt.Sprintf("%s %s %d %d %d %d %d",
		s.PrimaryNS, s.Admin, s.Serial, s.Refresh, s.Retry, s.Expire, s.MinTTL)
}

// ParseSOA parses SOA record content produced by SOA.Content.
func ParseSOA(content string) (SOA, error) {
	parts := strings.Fields(content)
	if len(parts) != 7 {
		return SOA{}, fmt.Errorf("%w: expected 7 fields, got %d", ErrInvalidSOA, len(parts))
	}

	soa := SOA{PrimaryNS: parts[0], Admin: parts[1]}
	fields := []*uint32{&soa.Serial, &soa.Refresh, &soa.Retry, &soa.Expire, &soa.MinTTL}
	for i, dst := range fields {
		v, err := strconv.ParseUint(parts[i+2], 10, 32)
		if err != nil {
			return SOA{}, fmt.Errorf("%w: field %d: %v", ErrInvalidSOA, i+3, err)
		}
		*dst = uint32(v)
	}
	return soa, nil
}

// ResolvedRecord is one entry of a resolved zone. Names are fully qualified.
type ResolvedRecord struct {
	Name     string     `json:"name"`
	Type     RecordType `json:"type"`
	Content  string     `json:"content"`
	TTL      int        `json:"ttl"`
	Priority *int       `json:"priority,omitempty"`
}

// ResolvedZone is the effective record set of a domain after alias and clone
// resolution. It is derived on demand and never persisted.
type ResolvedZone struct {
	Domain  *Domain
	Source  *Domain
	SOA     SOA
	SOATTL  int
	HasNS   bool
	Records []ResolvedRecord
}

// Apex returns the fully qualified apex name of the requesting domain.
func (z *ResolvedZone) Apex() string {
	return Fqdn(z.Domain.Name)
}

// ApexNameservers returns the targets of the apex NS records.
func (z *ResolvedZone) ApexNameservers() []string {
	apex := strings.ToLower(z.Apex())
	var hosts []string
	for _, rec := range z.Records {
		if rec.Type == TypeNS && strings.ToLower(rec.Name) == apex {
			hosts = append(hosts, Fqdn(rec.Content))
		}
	}
	return hosts
}
