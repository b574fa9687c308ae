// Package fingerprint computes the change-detection hashes stored with each mapping.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/tazhate/calmirror/internal/domain"
)

// Fields hashes the tracked fields of an event. Keys are serialized in sorted
// order, so the result does not depend on how the record was assembled.
// Fields outside the record (organizer, attendees) are not tracked.
func Fields(identity string, f domain.Fields) string {
	record := map[string]any{
		"identity":    identity,
		"title":       f.Title,
		"description": f.Description,
		"location":    f.Location,
		"start":       formatTime(f.Start),
		"end":         formatTime(f.End),
		"transparent": f.Transparent,
		"status":      f.Status,
	}
	if f.Sequence != nil {
		record["sequence"] = *f.Sequence
	}
	if f.LastModified != nil {
		record["last_modified"] = f.LastModified.UTC().Format(time.RFC3339)
	}
	return digest(record)
}

// Event hashes e's identity and fields.
func Event(e *domain.CanonicalEvent) string {
	return Fields(e.Identity, e.Fields)
}

// Composite hashes a master together with its rule, its own excluded dates and
// every linked exception. Any exception change changes the composite.
func Composite(master *domain.CanonicalEvent, exceptions []domain.CanonicalEvent) string {
	linked := make([][3]string, 0, len(exceptions))
	for _, e := range exceptions {
		linked = append(linked, [3]string{
			e.Identity,
			e.ExceptionDate.UTC().Format(time.RFC3339),
			e.Fingerprint,
		})
	}
	sort.Slice(linked, func(i, j int) bool {
		if linked[i][0] != linked[j][0] {
			return linked[i][0] < linked[j][0]
		}
		return linked[i][1] < linked[j][1]
	})

	excluded := make([]string, 0, len(master.ExcludedDates))
	for _, d := range master.ExcludedDates {
		excluded = append(excluded, d.UTC().Format(time.RFC3339))
	}
	sort.Strings(excluded)

	rule := ""
	zone := ""
	if master.Rule != nil {
		rule = master.Rule.String()
		zone = master.Rule.TZID
	}

	return digest(map[string]any{
		"master":     master.Fingerprint,
		"rule":       rule,
		"rule_zone":  zone,
		"excluded":   excluded,
		"exceptions": linked,
	})
}

func formatTime(t domain.EventTime) string {
	if t.IsZero() {
		return ""
	}
	if t.DateOnly {
		return t.Date()
	}
	s := t.Time.Format(time.RFC3339)
	if t.TZID != "" {
		s += "[" + t.TZID + "]"
	}
	return s
}

func digest(record map[string]any) string {
	// encoding/json writes map keys in sorted order.
	data, err := json.Marshal(record)
	if err != nil {
		// Only strings, bools, ints and slices of them reach here.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
