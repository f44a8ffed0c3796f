package registry

import "time"

type Status string

const (
	StatusActive Status = "active"
	StatusFrozen Status = "frozen"
)

type CollaboratorStatus string

const (
	CollaboratorInvited CollaboratorStatus = "invited"
	CollaboratorActive  CollaboratorStatus = "active"
)

type Right string

const (
	RightRead  Right = "read"
	RightWrite Right = "write"
)

func (r Right) IsValid() bool {
	return r == RightRead || r == RightWrite
}

type Role string

const (
	RoleOwner        Role = "owner"
	RoleCollaborator Role = "collaborator"
	RoleNone         Role = "none"
)

// SubdomainRecord is stored once per claimed subdomain, keyed by its lowercase name.
type SubdomainRecord struct {
	OwnerID       string         `json:"ownerId"`
	ClaimedAt     time.Time      `json:"claimedAt"`
	Status        Status         `json:"status,omitempty"`
	FrozenAt      *time.Time     `json:"frozenAt,omitempty"`
	Collaborators []Collaborator `json:"collaborators"`
	LedgerID      string         `json:"ledgerId,omitempty"`
}

// Collaborator is embedded in a SubdomainRecord. Email is the natural key.
type Collaborator struct {
	Email      string             `json:"email"`
	UserID     string             `json:"userId,omitempty"`
	Status     CollaboratorStatus `json:"status"`
	Right      Right              `json:"right"`
	InviteCode string             `json:"inviteCode,omitempty"`
	InvitedAt  time.Time          `json:"invitedAt"`
	JoinedAt   *time.Time         `json:"joinedAt,omitempty"`
}

// UserRecord lists every subdomain a user owns or collaborates on. A nil
// Quota means unlimited.
type UserRecord struct {
	Subdomains []string `json:"subdomains"`
	Quota      *int     `json:"quota,omitempty"`
}

// HasSubdomain reports whether name is already indexed for the user.
func (u UserRecord) HasSubdomain(name string) bool {
	for _, s := range u.Subdomains {
		if s == name {
			return true
		}
	}
	return false
}

// WithSubdomain returns a copy with name appended if missing.
func (u UserRecord) WithSubdomain(name string) UserRecord {
	if u.HasSubdomain(name) {
		return u
	}
	subs := make([]string, 0, len(u.Subdomains)+1)
	subs = append(subs, u.Subdomains...)
	u.Subdomains = append(subs, name)
	return u
}

// WithoutSubdomain returns a copy with name removed.
func (u UserRecord) WithoutSubdomain(name string) UserRecord {
	subs := make([]string, 0, len(u.Subdomains))
	for _, s := range u.Subdomains {
		if s != name {
			subs = append(subs, s)
		}
	}
	u.Subdomains = subs
	return u
}

// Access is the result of HasAccess. Frozen is reported independently so
// callers can tell a denial from a read-only subdomain.
type Access struct {
	HasAccess bool  `json:"hasAccess"`
	Role      Role  `json:"role"`
	Right     Right `json:"right,omitempty"`
	Frozen    bool  `json:"frozen"`
}

// CanWrite is true for owners and write collaborators on an active subdomain.
func (a Access) CanWrite() bool {
	if !a.HasAccess || a.Frozen {
		return false
	}
	return a.Role == RoleOwner || a.Right == RightWrite
}
