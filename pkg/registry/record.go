package registry

import (
	"strings"
	"time"

	"github.com/acorn-io/acorn-registry/pkg/rand"
)

const inviteCodeLength = 24

// Now is the clock used for record timestamps.
var Now = time.Now

// NormalizeEmail is the collaborator list key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func CreateSubdomainRecord(userID string) SubdomainRecord {
	return SubdomainRecord{
		OwnerID:       userID,
		ClaimedAt:     Now().UTC(),
		Status:        StatusActive,
		Collaborators: []Collaborator{},
	}
}

// Normalize fills in fields missing from records written before collaborators
// and freezing existed.
func Normalize(rec SubdomainRecord) SubdomainRecord {
	if rec.Status == "" {
		rec.Status = StatusActive
	}
	if rec.Collaborators == nil {
		rec.Collaborators = []Collaborator{}
	}
	return rec
}

func FreezeSubdomain(rec SubdomainRecord) SubdomainRecord {
	if rec.Status == StatusFrozen && rec.FrozenAt != nil {
		return rec
	}
	t := Now().UTC()
	rec.Status = StatusFrozen
	rec.FrozenAt = &t
	return rec
}

func UnfreezeSubdomain(rec SubdomainRecord) SubdomainRecord {
	rec.Status = StatusActive
	rec.FrozenAt = nil
	return rec
}

func (rec SubdomainRecord) IsFrozen() bool {
	return rec.Status == StatusFrozen
}

// FindCollaborator looks up an entry by normalized email.
func (rec SubdomainRecord) FindCollaborator(email string) (Collaborator, bool) {
	email = NormalizeEmail(email)
	for _, c := range rec.Collaborators {
		if c.Email == email {
			return c, true
		}
	}
	return Collaborator{}, false
}

// AddCollaborator appends an invited entry with a fresh invite code. The
// record is returned unchanged if the email is already present.
func AddCollaborator(rec SubdomainRecord, email string, right Right) SubdomainRecord {
	email = NormalizeEmail(email)
	if _, ok := rec.FindCollaborator(email); ok {
		return rec
	}

	collaborators := make([]Collaborator, 0, len(rec.Collaborators)+1)
	collaborators = append(collaborators, rec.Collaborators...)
	rec.Collaborators = append(collaborators, Collaborator{
		Email:      email,
		Status:     CollaboratorInvited,
		Right:      right,
		InviteCode: rand.StringWithSmall(inviteCodeLength),
		InvitedAt:  Now().UTC(),
	})
	return rec
}

// ActivateCollaborator redeems the invited entry for email. Entries that are
// missing or already active are left alone.
func ActivateCollaborator(rec SubdomainRecord, email, userID string) SubdomainRecord {
	email = NormalizeEmail(email)

	collaborators := make([]Collaborator, len(rec.Collaborators))
	copy(collaborators, rec.Collaborators)
	for i, c := range collaborators {
		if c.Email != email || c.Status != CollaboratorInvited {
			continue
		}
		t := Now().UTC()
		c.Status = CollaboratorActive
		c.UserID = userID
		c.JoinedAt = &t
		c.InviteCode = ""
		collaborators[i] = c
	}
	rec.Collaborators = collaborators
	return rec
}

func RemoveCollaborator(rec SubdomainRecord, email string) SubdomainRecord {
	email = NormalizeEmail(email)

	collaborators := make([]Collaborator, 0, len(rec.Collaborators))
	for _, c := range rec.Collaborators {
		if c.Email != email {
			collaborators = append(collaborators, c)
		}
	}
	rec.Collaborators = collaborators
	return rec
}

// HasAccess resolves the role of userID on the subdomain. The owner wins over
// any collaborator entry.
func HasAccess(rec SubdomainRecord, userID string) Access {
	frozen := rec.IsFrozen()
	if userID != "" && rec.OwnerID == userID {
		return Access{HasAccess: true, Role: RoleOwner, Right: RightWrite, Frozen: frozen}
	}
	for _, c := range rec.Collaborators {
		if userID != "" && c.Status == CollaboratorActive && c.UserID == userID {
			return Access{HasAccess: true, Role: RoleCollaborator, Right: c.Right, Frozen: frozen}
		}
	}
	return Access{Role: RoleNone, Frozen: frozen}
}
