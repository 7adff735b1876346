// Package convert turns a chat message into a multi-city time report.
package convert

import (
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/tzChat/pkg/cities"
	"github.com/codeGROOVE-dev/tzChat/pkg/scanner"
	"github.com/codeGROOVE-dev/tzChat/pkg/timemath"
)

const calendarBaseURL = "https://calendar.google.com/calendar/render"

// DefaultCalendarTitle is used until a conversation renames its event link.
const DefaultCalendarTitle = "Group call"

// Calendar holds the per-conversation calendar-link settings.
type Calendar struct {
	Enabled bool   `json:"enabled"`
	Title   string `json:"title"`
}

// DefaultCalendar returns the settings a conversation starts with.
func DefaultCalendar() Calendar {
	return Calendar{Enabled: true, Title: DefaultCalendarTitle}
}

// Engine builds conversion reports from free-text messages.
type Engine struct {
	scanner *scanner.Scanner
	now     func() time.Time
	logger  *slog.Logger
}

// New creates an Engine. A nil now func means time.Now; a nil logger falls
// back to slog.Default.
func New(sc *scanner.Scanner, now func() time.Time, logger *slog.Logger) *Engine {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{scanner: sc, now: now, logger: logger}
}

type reportLine struct {
	clock  string
	name   string
	marker string
	rank   int
}

// Report scans the message for a time anchored to a watched city and, when
// one is found, renders the equivalent wall-clock time in every watched
// city. Lines are sorted by the computed local time-of-day, not by
// configured rank, so the report reads chronologically whichever city was
// the anchor. Cities on a different calendar date than the anchor get a
// day-shift marker. Returns ok=false when the message contains no valid
// time+alias pattern; that is a silent non-event, not an error.
func (e *Engine) Report(text string, list *cities.List, cal Calendar) (string, bool) {
	m, ok := e.scanner.Scan(text, list)
	if !ok {
		return "", false
	}

	now := e.now()
	instant, err := timemath.ResolveAbsolute(m.City.TimezoneID, m.Hours, m.Minutes, now)
	if err != nil {
		e.logger.Warn("anchor city has a broken timezone", "city", m.City.Name, "timezone", m.City.TimezoneID, "error", err)
		return "", false
	}
	anchorDate, err := timemath.LocalCalendarDate(instant, m.City.TimezoneID)
	if err != nil {
		return "", false
	}

	lines := make([]reportLine, 0, len(list.Cities))
	for _, c := range list.Cities {
		clock, err := timemath.FormatLocal(instant, c.TimezoneID)
		if err != nil {
			// Best-effort report: skip the broken city, keep the rest.
			e.logger.Warn("skipping city with broken timezone", "city", c.Name, "timezone", c.TimezoneID, "error", err)
			continue
		}
		date, err := timemath.LocalCalendarDate(instant, c.TimezoneID)
		if err != nil {
			continue
		}
		marker := ""
		switch {
		case date > anchorDate:
			marker = " (+1d)"
		case date < anchorDate:
			marker = " (-1d)"
		}
		lines = append(lines, reportLine{clock: clock, name: c.Name, marker: marker, rank: c.Rank})
	}
	if len(lines) == 0 {
		return "", false
	}

	// "HH:MM" compares lexicographically in time order; rank breaks ties.
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].clock != lines[j].clock {
			return lines[i].clock < lines[j].clock
		}
		return lines[i].rank < lines[j].rank
	})

	var b strings.Builder
	for i, ln := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "`%s` — %s%s", ln.clock, ln.name, ln.marker)
	}
	if cal.Enabled {
		b.WriteByte('\n')
		fmt.Fprintf(&b, "[%s](%s)", cal.Title, EventURL(cal.Title, instant))
	}
	return b.String(), true
}

// EventURL builds a calendar-template link for a one-hour event starting at
// the given instant. Dates are UTC in the compact YYYYMMDDTHHMMSSZ form the
// template endpoint expects.
func EventURL(title string, start time.Time) string {
	const stamp = "20060102T150405Z"
	return calendarBaseURL + "?action=TEMPLATE&text=" + url.QueryEscape(title) +
		"&dates=" + start.UTC().Format(stamp) + "/" + start.UTC().Add(time.Hour).Format(stamp)
}
