package master

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/csmith/mydnshost-api/internal/core/domain"
)

// Entry is one record stored under a name in a Zone.
type Entry struct {
	Type     domain.RecordType
	Content  string
	TTL      int
	Priority *int
}

// Zone is an in-memory master file: an SOA plus an ordered multimap of
// owner name to entries. Owner names are kept fully qualified and lower case.
type Zone struct {
	Origin string

	soa    domain.SOA
	soaTTL int
	hasSOA bool

	names   []string
	entries map[string][]Entry
}

// NewZone returns an empty zone for origin.
func NewZone(origin string) *Zone {
	return &Zone{
		Origin:  ownerKey(origin),
		entries: make(map[string][]Entry),
	}
}

func ownerKey(name string) string {
	return strings.ToLower(domain.Fqdn(name))
}

// SetSOA replaces the SOA of the zone.
func (z *Zone) SetSOA(soa domain.SOA, ttl int) {
	z.soa = soa
	z.soaTTL = ttl
	z.hasSOA = true
}

// SOA returns the zone's SOA, its TTL and whether one is set.
func (z *Zone) SOA() (domain.SOA, int, bool) {
	return z.soa, z.soaTTL, z.hasSOA
}

// BumpSerial increments the SOA serial by one and returns the new value.
func (z *Zone) BumpSerial() uint32 {
	z.soa.Serial++
	return z.soa.Serial
}

// SetRecord adds a record, replacing an existing one with the same name,
// type and content. Content is stored in the presentation form a master file
// parser gives back, so a written zone reads back record for record. Content
// that does not parse is kept as given.
func (z *Zone) SetRecord(name string, rrType domain.RecordType, content string, ttl int, priority *int) {
	key := ownerKey(name)
	rrType = domain.RecordType(strings.ToUpper(string(rrType)))
	if rrType == domain.TypeTXT {
		content = QuoteTXT(content)
	}
	if c, p, ok := canonicalContent(key, rrType, content, priority); ok {
		content, priority = c, p
	}
	z.setRecord(key, rrType, content, ttl, priority)
}

func (z *Zone) setRecord(key string, rrType domain.RecordType, content string, ttl int, priority *int) {
	entry := Entry{Type: rrType, Content: content, TTL: ttl, Priority: copyInt(priority)}

	list, ok := z.entries[key]
	if !ok {
		z.names = append(z.names, key)
	}
	for i, e := range list {
		if e.Type == rrType && e.Content == content {
			list[i] = entry
			return
		}
	}
	z.entries[key] = append(list, entry)
}

// UnsetRecord removes every record with the given name and type.
func (z *Zone) UnsetRecord(name string, rrType domain.RecordType) {
	key := ownerKey(name)
	list, ok := z.entries[key]
	if !ok {
		return
	}

	kept := list[:0]
	for _, e := range list {
		if !strings.EqualFold(string(e.Type), string(rrType)) {
			kept = append(kept, e)
		}
	}
	if len(kept) > 0 {
		z.entries[key] = kept
		return
	}

	delete(z.entries, key)
	for i, n := range z.names {
		if n == key {
			z.names = append(z.names[:i], z.names[i+1:]...)
			break
		}
	}
}

// ClearRecords removes all records but keeps the SOA.
func (z *Zone) ClearRecords() {
	z.names = nil
	z.entries = make(map[string][]Entry)
}

// Lookup returns the records stored under name with the given type.
func (z *Zone) Lookup(name string, rrType domain.RecordType) []Entry {
	var out []Entry
	for _, e := range z.entries[ownerKey(name)] {
		if strings.EqualFold(string(e.Type), string(rrType)) {
			out = append(out, e)
		}
	}
	return out
}

// Records flattens the zone into resolved records, in insertion order.
func (z *Zone) Records() []domain.ResolvedRecord {
	var out []domain.ResolvedRecord
	for _, name := range z.names {
		for _, e := range z.entries[name] {
			out = append(out, domain.ResolvedRecord{
				Name:     name,
				Type:     e.Type,
				Content:  e.Content,
				TTL:      e.TTL,
				Priority: copyInt(e.Priority),
			})
		}
	}
	return out
}

// Len returns the number of records, excluding the SOA.
func (z *Zone) Len() int {
	n := 0
	for _, list := range z.entries {
		n += len(list)
	}
	return n
}

// WriteTo serializes the zone as a BIND master file: SOA first, then one
// line per record.
func (z *Zone) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "; Zone: %s\n", z.Origin)
	fmt.Fprintf(&buf, "$ORIGIN %s\n", z.Origin)
	if z.hasSOA {
		fmt.Fprintf(&buf, "%s\t%d\tIN\tSOA\t%s\n", z.Origin, z.soaTTL, z.soa.Content())
	}
	for _, name := range z.names {
		for _, e := range z.entries[name] {
			if e.Type.HasPriority() {
				prio := 0
				if e.Priority != nil {
					prio = *e.Priority
				}
				fmt.Fprintf(&buf, "%s\t%d\tIN\t%s\t%d %s\n", name, e.TTL, e.Type, prio, e.Content)
				continue
			}
			fmt.Fprintf(&buf, "%s\t%d\tIN\t%s\t%s\n", name, e.TTL, e.Type, e.Content)
		}
	}

	return buf.WriteTo(w)
}

func (z *Zone) String() string {
	var sb strings.Builder
	_, _ = z.WriteTo(&sb)
	return sb.String()
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
