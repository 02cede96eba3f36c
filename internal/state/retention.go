// Package state implements the scoped persistent state manager:
// class-based fast path, hook-aware validated writes, encryption for
// Sensitive keys, export/import, and snapshot backup/restore with
// composite retention policies.
package state

import "time"

// Snapshot is a point-in-time backup of a scope's entries.
type Snapshot struct {
	ID        string
	ScopeKey  string
	CreatedAt time.Time
	Entries   map[string][]byte
	// Importance is an optional caller-assigned score (0..1) consulted
	// by the importance-based retention policy.
	Importance float64
}

// RetentionPolicy decides whether a snapshot should be kept. Composite
// retention uses OR semantics: a snapshot survives if ANY composed
// policy votes to retain it.
type RetentionPolicy interface {
	Retain(now time.Time, all []Snapshot, s Snapshot) (bool, string)
}

// CountPolicy retains only the N most recent snapshots.
type CountPolicy struct{ Keep int }

func (p CountPolicy) Retain(now time.Time, all []Snapshot, s Snapshot) (bool, string) {
	rank := 0
	for _, o := range all {
		if o.CreatedAt.After(s.CreatedAt) {
			rank++
		}
	}
	if rank < p.Keep {
		return true, "within count limit"
	}
	return false, "exceeds count limit"
}

// AgePolicy retains snapshots younger than MaxAge.
type AgePolicy struct{ MaxAge time.Duration }

func (p AgePolicy) Retain(now time.Time, all []Snapshot, s Snapshot) (bool, string) {
	if now.Sub(s.CreatedAt) <= p.MaxAge {
		return true, "within age window"
	}
	return false, "exceeds age window"
}

// ImportancePolicy retains snapshots whose Importance meets a floor,
// regardless of age or count.
type ImportancePolicy struct{ MinImportance float64 }

func (p ImportancePolicy) Retain(now time.Time, all []Snapshot, s Snapshot) (bool, string) {
	if s.Importance >= p.MinImportance {
		return true, "meets importance floor"
	}
	return false, "below importance floor"
}

// CompositePolicy aggregates several policies with OR semantics:
// retain iff any one of them says retain.
type CompositePolicy struct{ Policies []RetentionPolicy }

func (p CompositePolicy) Retain(now time.Time, all []Snapshot, s Snapshot) (bool, string) {
	// No composed policies means no retention limit is configured;
	// cleanup only happens once a limit exists.
	if len(p.Policies) == 0 {
		return true, "no retention limit configured"
	}
	for _, policy := range p.Policies {
		if ok, reason := policy.Retain(now, all, s); ok {
			return true, reason
		}
	}
	return false, "no composed policy voted retain"
}

// Retained partitions snapshots into keep/drop sets per policy,
// reporting the reason each keep decision was made.
func Retained(policy RetentionPolicy, now time.Time, all []Snapshot) (keep []Snapshot, drop []Snapshot, reasons map[string]string) {
	reasons = make(map[string]string, len(all))
	for _, s := range all {
		ok, reason := policy.Retain(now, all, s)
		reasons[s.ID] = reason
		if ok {
			keep = append(keep, s)
		} else {
			drop = append(drop, s)
		}
	}
	return keep, drop, reasons
}
