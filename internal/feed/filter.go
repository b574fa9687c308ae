package feed

import (
	"strings"

	"github.com/tazhate/calmirror/internal/domain"
)

// Filter decides whether an entry is hidden from reconciliation. It returns
// the reason when the entry is excluded.
type Filter interface {
	Exclude(e *Entry) (reason string, excluded bool)
}

// Policy is the configurable exclusion predicate bundle.
type Policy struct {
	// TitleBlocklist hides entries whose title contains any of the
	// substrings, case-insensitively.
	TitleBlocklist []string
	// Principal is the attendee address whose responses are honored.
	Principal string

	ExcludeDeclined    bool
	ExcludeTentative   bool
	ExcludeTransparent bool
	ExcludeCancelled   bool
}

// Exclude implements Filter.
func (p Policy) Exclude(e *Entry) (string, bool) {
	title := strings.ToLower(e.Summary)
	for _, blocked := range p.TitleBlocklist {
		blocked = strings.ToLower(strings.TrimSpace(blocked))
		if blocked != "" && strings.Contains(title, blocked) {
			return "title matches " + blocked, true
		}
	}

	partStat := ""
	if p.Principal != "" {
		partStat = e.PartStatOf(p.Principal)
	}

	if p.ExcludeDeclined && partStat == "DECLINED" {
		return "declined by " + p.Principal, true
	}
	if p.ExcludeTentative && (e.Status == domain.StatusTentative || partStat == "TENTATIVE") {
		return "tentative", true
	}
	if p.ExcludeTransparent && e.Transparent {
		return "transparent", true
	}
	if p.ExcludeCancelled && e.Status == domain.StatusCancelled {
		return "cancelled", true
	}
	return "", false
}

// AllowAll is a Filter that keeps every entry.
type AllowAll struct{}

// Exclude implements Filter.
func (AllowAll) Exclude(*Entry) (string, bool) { return "", false }
