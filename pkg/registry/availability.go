package registry

import (
	"regexp"
	"slices"
	"strings"
)

const (
	ReasonReserved      = "reserved"
	ReasonPreallocated  = "preallocated"
	ReasonClaimed       = "claimed"
	ReasonTooShort      = "too_short"
	ReasonTooLong       = "too_long"
	ReasonInvalidFormat = "invalid_format"
)

var (
	nameFormat      = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$`)
	shortNameFormat = regexp.MustCompile(`^[a-z0-9]{1,2}$`)
)

// Availability is returned verbatim by the check endpoint.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	OwnerID   string `json:"ownerId,omitempty"`
}

// Rules holds the length limits for subdomain names.
type Rules struct {
	MinLength int
	MaxLength int
}

var DefaultRules = Rules{
	MinLength: 3,
	MaxLength: 63,
}

// NormalizeName lowercases and trims a requested subdomain name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IsSubdomainAvailable applies DefaultRules.
func IsSubdomainAvailable(name string, existing *SubdomainRecord, reserved []string, preallocated map[string]string) Availability {
	return DefaultRules.IsSubdomainAvailable(name, existing, reserved, preallocated)
}

// IsSubdomainAvailable runs the checks in order and reports the first failure.
func (r Rules) IsSubdomainAvailable(name string, existing *SubdomainRecord, reserved []string, preallocated map[string]string) Availability {
	if slices.Contains(reserved, name) {
		return Availability{Reason: ReasonReserved}
	}
	if owner, ok := preallocated[name]; ok {
		return Availability{Reason: ReasonPreallocated, OwnerID: owner}
	}
	if existing != nil {
		return Availability{Reason: ReasonClaimed, OwnerID: existing.OwnerID}
	}
	if len(name) < r.minLength() {
		return Availability{Reason: ReasonTooShort}
	}
	if len(name) > r.MaxLength {
		return Availability{Reason: ReasonTooLong}
	}
	if !validFormat(name) {
		return Availability{Reason: ReasonInvalidFormat}
	}
	return Availability{Available: true}
}

func (r Rules) minLength() int {
	if r.MinLength < 1 {
		return 1
	}
	return r.MinLength
}

func validFormat(name string) bool {
	if len(name) <= 2 {
		return shortNameFormat.MatchString(name)
	}
	return nameFormat.MatchString(name)
}
