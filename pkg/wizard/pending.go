package wizard

import (
	"time"

	"github.com/codeGROOVE-dev/tzChat/pkg/cities"
	"github.com/codeGROOVE-dev/tzChat/pkg/geocode"
)

// Step identifies which message the wizard is waiting for.
type Step string

const (
	// StepCityName waits for the name of a city to add.
	StepCityName Step = "city_name"
	// StepChoice waits for a 1-based pick among lookup candidates.
	StepChoice Step = "choice"
	// StepAliases waits for alias codes for the chosen city.
	StepAliases Step = "aliases"
	// StepRemoval waits for 1-based indices into the removal snapshot.
	StepRemoval Step = "removal"
	// StepCalendarTitle waits for a title that enables the calendar link.
	StepCalendarTitle Step = "calendar_title"
	// StepCalendarRename renames the calendar title on every message until
	// /done or /disable.
	StepCalendarRename Step = "calendar_rename"
)

// Pending is the transient record of an in-progress dialog, scoped to one
// (conversation, user) pair. Only the fields of the current step are set.
// Every advance writes a fresh record, so CreatedAt measures inactivity.
type Pending struct {
	Step       Step                `json:"step"`
	CreatedAt  time.Time           `json:"created_at"`
	Candidates []geocode.Candidate `json:"candidates,omitempty"`
	CityName   string              `json:"city_name,omitempty"`
	TimezoneID string              `json:"timezone_id,omitempty"`
	Reserved   []string            `json:"reserved,omitempty"`
	Snapshot   []cities.City       `json:"snapshot,omitempty"`
}

// Expired reports whether the record has been inactive longer than ttl.
// An expired record is treated exactly as if it were absent.
func (p *Pending) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.CreatedAt) > ttl
}
