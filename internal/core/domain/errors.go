package domain

import "errors"

var (
	// ErrDomainNotFound is returned when a referenced domain does not exist.
	ErrDomainNotFound = errors.New("domain not found")
	// ErrAliasLoop is returned when an alias chain never terminates.
	ErrAliasLoop = errors.New("alias chain does not terminate")
	// ErrBrokenAlias is returned when an alias points at a missing domain.
	ErrBrokenAlias = errors.New("alias target does not exist")
	// ErrInvalidSOA is returned for SOA content that cannot be parsed.
	ErrInvalidSOA = errors.New("invalid SOA content")
	// ErrInvalidZoneName is returned for names that cannot be used as a zone.
	ErrInvalidZoneName = errors.New("invalid zone name")
	// ErrCatalogLocked is returned when the catalog lock cannot be acquired.
	ErrCatalogLocked = errors.New("catalog lock not acquired")
)
