package dedupe

import (
	"sort"

	"github.com/okian/gather/internal/domain/model"
)

// member pairs an event with its fingerprint inside a cluster.
type member struct {
	ev *model.NormalizedEvent
	fp *Fingerprint
}

// rankMembers orders a cluster so the primary comes first: verified or
// official, then most complete, then earliest ingested, then smallest
// external id. The event id settles records sharing an external id.
func rankMembers(ms []member) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.fp.Priority != b.fp.Priority {
			return a.fp.Priority
		}
		if a.fp.Completeness != b.fp.Completeness {
			return a.fp.Completeness > b.fp.Completeness
		}
		if !a.ev.IngestedAt.Equal(b.ev.IngestedAt) {
			return a.ev.IngestedAt.Before(b.ev.IngestedAt)
		}
		if a.ev.ExternalID != b.ev.ExternalID {
			return a.ev.ExternalID < b.ev.ExternalID
		}
		return a.ev.ID < b.ev.ID
	})
}
