package domain

import (
	"cmp"
	"strings"
)

// Ordering selects how the records of a zone are sorted by name. Reverse
// zones get orderings that keep addresses in a readable sequence.
type Ordering int

const (
	// OrderSuffixTrim sorts on the part of the name before the zone suffix.
	OrderSuffixTrim Ordering = iota
	// OrderReverseName sorts on the reversed name string (ip6.arpa).
	OrderReverseName
	// OrderLengthThenName sorts by name length, then name (in-addr.arpa).
	OrderLengthThenName
)

func (o Ordering) String() string {
	switch o {
	case OrderReverseName:
		return "reverse-name"
	case OrderLengthThenName:
		return "length-then-name"
	default:
		return "suffix-trim"
	}
}

// OrderingFor picks the ordering for records of the given zone.
func OrderingFor(zone string) Ordering {
	z := strings.TrimSuffix(strings.ToLower(zone), ".")
	switch {
	case strings.HasSuffix(z, "ip6.arpa"):
		return OrderReverseName
	case strings.HasSuffix(z, "in-addr.arpa"):
		return OrderLengthThenName
	default:
		return OrderSuffixTrim
	}
}

// Compare orders two record names belonging to zone.
func (o Ordering) Compare(a, b, zone string) int {
	a = strings.ToLower(strings.TrimSuffix(a, "."))
	b = strings.ToLower(strings.TrimSuffix(b, "."))

	switch o {
	case OrderReverseName:
		return strings.Compare(reverseString(a), reverseString(b))
	case OrderLengthThenName:
		if c := cmp.Compare(len(a), len(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	default:
		suffix := strings.ToLower(strings.TrimSuffix(zone, "."))
		if c := strings.Compare(trimZoneSuffix(a, suffix), trimZoneSuffix(b, suffix)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	}
}

func trimZoneSuffix(name, zone string) string {
	if name == zone {
		return ""
	}
	return strings.TrimSuffix(name, "."+zone)
}

func reverseString(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
