package master

import (
	"crypto/sha1" // #nosec G505 -- catalog member hashes are defined over SHA-1
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/miekg/dns"
)

// WireName encodes name in uncompressed DNS wire format: each label
// prefixed by its length, terminated by the root label.
func WireName(name string) ([]byte, error) {
	fqdn := strings.ToLower(domain.Fqdn(name))
	buf := make([]byte, 256)
	off, err := dns.PackDomainName(fqdn, buf, 0, nil, false)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q: %w", name, err)
	}
	return buf[:off], nil
}

// CatalogHash returns the hex SHA-1 of the wire encoding of a zone name, used
// as the catalog member label for that zone.
func CatalogHash(name string) (string, error) {
	wire, err := WireName(name)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(wire) // #nosec G401
	return hex.EncodeToString(sum[:]), nil
}
