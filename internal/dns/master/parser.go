// Package master reads and writes DNS master zone files (RFC 1035).
package master

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/miekg/dns"
)

// maxTXTChunk is the longest character-string a TXT record can carry.
const maxTXTChunk = 255

// Parse reads a master zone file and rebuilds the Zone it describes, so
// edits can be applied to an existing file instead of regenerating it.
func Parse(r io.Reader, origin string) (*Zone, error) {
	zone := NewZone(origin)

	zp := dns.NewZoneParser(r, zone.Origin, "")
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		if err := zone.addRR(rr); err != nil {
			return nil, err
		}
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse zone %s: %w", zone.Origin, err)
	}

	return zone, nil
}

func (z *Zone) addRR(rr dns.RR) error {
	hdr := rr.Header()
	ttl := int(hdr.Ttl)

	if v, ok := rr.(*dns.SOA); ok {
		z.SetSOA(domain.SOA{
			PrimaryNS: v.Ns,
			Admin:     v.Mbox,
			Serial:    v.Serial,
			Refresh:   v.Refresh,
			Retry:     v.Retry,
			Expire:    v.Expire,
			MinTTL:    v.Minttl,
		}, ttl)
		return nil
	}

	rrType, content, prio, ok := rrContent(rr)
	if !ok {
		return fmt.Errorf("unsupported record type %d at %s", hdr.Rrtype, hdr.Name)
	}
	z.setRecord(ownerKey(hdr.Name), rrType, content, ttl, prio)
	return nil
}

// rrContent splits rr into the type, content and priority a Zone stores.
func rrContent(rr dns.RR) (domain.RecordType, string, *int, bool) {
	hdr := rr.Header()

	switch v := rr.(type) {
	case *dns.MX:
		prio := int(v.Preference)
		return domain.TypeMX, v.Mx, &prio, true
	case *dns.SRV:
		prio := int(v.Priority)
		return domain.TypeSRV, fmt.Sprintf("%d %d %s", v.Weight, v.Port, v.Target), &prio, true
	}

	rrType, ok := dns.TypeToString[hdr.Rrtype]
	if !ok {
		return "", "", nil, false
	}
	return domain.RecordType(rrType), strings.TrimPrefix(rr.String(), hdr.String()), nil, true
}

// canonicalContent parses content as an RR owned by owner and returns it the
// way rrContent would. Relative names in content are taken as rooted.
func canonicalContent(owner string, rrType domain.RecordType, content string, priority *int) (string, *int, bool) {
	line := fmt.Sprintf("%s 0 IN %s ", owner, rrType)
	if rrType.HasPriority() {
		prio := 0
		if priority != nil {
			prio = *priority
		}
		line += strconv.Itoa(prio) + " "
	}

	rr, err := dns.NewRR(line + content)
	if err != nil || rr == nil {
		return "", nil, false
	}
	got, c, p, ok := rrContent(rr)
	if !ok || got != rrType {
		return "", nil, false
	}
	return c, p, true
}

// QuoteTXT turns raw TXT content into quoted character-strings, splitting
// anything longer than 255 bytes. Content that is already quoted is kept.
func QuoteTXT(content string) string {
	if strings.HasPrefix(content, `"`) && strings.HasSuffix(content, `"`) && len(content) > 1 {
		return content
	}

	var chunks []string
	for len(content) > maxTXTChunk {
		chunks = append(chunks, content[:maxTXTChunk])
		content = content[maxTXTChunk:]
	}
	chunks = append(chunks, content)

	escaper := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	for i, c := range chunks {
		chunks[i] = `"` + escaper.Replace(c) + `"`
	}
	return strings.Join(chunks, " ")
}

// RFC 4034 Section 6.1: Canonical DNS Name Order
func CompareNamesCanonically(a, b string) int {
	a = strings.TrimSuffix(strings.ToLower(a), ".")
	b = strings.TrimSuffix(strings.ToLower(b), ".")

	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}

	aLabels := strings.Split(a, ".")
	bLabels := strings.Split(b, ".")

	i := len(aLabels) - 1
	j := len(bLabels) - 1

	for i >= 0 && j >= 0 {
		if aLabels[i] < bLabels[j] {
			return -1
		}
		if aLabels[i] > bLabels[j] {
			return 1
		}
		i--
		j--
	}

	if len(aLabels) < len(bLabels) {
		return -1
	}
	if len(aLabels) > len(bLabels) {
		return 1
	}
	return 0
}

// SortRecordsCanonically orders records by canonical name, then type.
func SortRecordsCanonically(records []domain.ResolvedRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		cmp := CompareNamesCanonically(records[i].Name, records[j].Name)
		if cmp == 0 {
			return records[i].Type < records[j].Type
		}
		return cmp < 0
	})
}
