package registry

import "sort"

// Unlimited is the effective quota reported when a user has none set.
const Unlimited = -1

// EffectiveQuota returns the quota as a number, Unlimited for nil.
func EffectiveQuota(quota *int) int {
	if quota == nil {
		return Unlimited
	}
	if *quota < 0 {
		return 0
	}
	return *quota
}

// OverQuota reports whether owning one more subdomain would exceed quota.
func OverQuota(owned int, quota *int) bool {
	q := EffectiveQuota(quota)
	return q != Unlimited && owned >= q
}

// OwnedNewestFirst returns the names in records owned by userID ordered from
// most to least recently claimed.
func OwnedNewestFirst(userID string, records map[string]SubdomainRecord) []string {
	var owned []string
	for name, rec := range records {
		if rec.OwnerID == userID {
			owned = append(owned, name)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		a, b := records[owned[i]], records[owned[j]]
		if a.ClaimedAt.Equal(b.ClaimedAt) {
			return owned[i] < owned[j]
		}
		return a.ClaimedAt.After(b.ClaimedAt)
	})
	return owned
}

// SubdomainsToRelease returns the oldest claims beyond quota. The newest
// claims are kept. Applying it again once at or under quota returns nothing.
func SubdomainsToRelease(ownedNewestFirst []string, quota *int) []string {
	q := EffectiveQuota(quota)
	if q == Unlimited || len(ownedNewestFirst) <= q {
		return nil
	}
	release := make([]string, len(ownedNewestFirst)-q)
	copy(release, ownedNewestFirst[q:])
	return release
}
