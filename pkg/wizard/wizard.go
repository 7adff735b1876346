// Package wizard drives the multi-message configuration dialogs: adding a
// watched city (with lookup and disambiguation), removing cities, and the
// calendar-link settings. It is a state machine over Pending records kept in
// an external store with a time-to-live; no state lives in memory between
// messages.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/tzChat/pkg/cities"
	"github.com/codeGROOVE-dev/tzChat/pkg/convert"
	"github.com/codeGROOVE-dev/tzChat/pkg/geocode"
)

// DefaultTTL is how long a pending dialog survives without activity.
const DefaultTTL = 5 * time.Minute

// CityStore persists the watched-city list per conversation. List returns
// nil when the conversation has no stored list yet.
type CityStore interface {
	List(conversationID int64) (*cities.List, error)
	Save(conversationID int64, list *cities.List) error
}

// PendingStore persists in-flight dialog records with a TTL. Get returns
// nil when there is no live record.
type PendingStore interface {
	Get(conversationID, userID int64) (*Pending, error)
	Put(conversationID, userID int64, p *Pending) error
	Delete(conversationID, userID int64) error
}

// CalendarStore persists calendar-link settings per conversation. Calendar
// reports found=false when the conversation has no stored settings yet.
type CalendarStore interface {
	Calendar(conversationID int64) (convert.Calendar, bool, error)
	Save(conversationID int64, cal convert.Calendar) error
}

// Lookup resolves a free-text place name to candidate cities.
type Lookup interface {
	Lookup(ctx context.Context, place string) ([]geocode.Candidate, error)
}

// Option configures a Wizard.
type Option func(*Wizard)

// WithTTL overrides the pending-record TTL.
func WithTTL(ttl time.Duration) Option {
	return func(w *Wizard) { w.ttl = ttl }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(w *Wizard) { w.now = now }
}

// Wizard is stateless between messages; everything it needs is re-read from
// the stores at the start of each message and written back at the end.
type Wizard struct {
	cities    CityStore
	pendings  PendingStore
	calendars CalendarStore
	lookup    Lookup
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Wizard. A nil logger falls back to slog.Default.
func New(cs CityStore, ps PendingStore, cal CalendarStore, lookup Lookup, logger *slog.Logger, opts ...Option) *Wizard {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Wizard{
		cities:    cs,
		pendings:  ps,
		calendars: cal,
		lookup:    lookup,
		ttl:       DefaultTTL,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

const genericFailure = "Something went wrong, please try again."

// Resume feeds a message to the in-flight dialog for (conversation, user),
// if one exists. handled=false means there is no live dialog and the caller
// should treat the message normally. An empty reply with handled=true means
// the dialog consumed the message silently.
func (w *Wizard) Resume(ctx context.Context, conversationID, userID int64, text string) (reply string, handled bool) {
	p, err := w.pendings.Get(conversationID, userID)
	if err != nil {
		w.logger.Warn("pending store read failed", "conversation", conversationID, "error", err)
		return "", false
	}
	if p == nil {
		return "", false
	}
	if p.Expired(w.now(), w.ttl) {
		w.clear(conversationID, userID)
		return "", false
	}

	text = strings.TrimSpace(text)
	if strings.EqualFold(text, "/cancel") {
		// Explicit cancellation clears state with no further reply.
		w.clear(conversationID, userID)
		return "", true
	}

	switch p.Step {
	case StepCityName:
		return w.resumeCityName(ctx, conversationID, userID, text), true
	case StepChoice:
		return w.resumeChoice(conversationID, userID, p, text), true
	case StepAliases:
		return w.resumeAliases(conversationID, userID, p, text), true
	case StepRemoval:
		return w.resumeRemoval(conversationID, userID, p, text), true
	case StepCalendarTitle:
		return w.resumeCalendarTitle(conversationID, userID, text), true
	case StepCalendarRename:
		return w.resumeCalendarRename(conversationID, userID, p, text), true
	default:
		w.logger.Error("pending record with unknown step", "step", p.Step)
		w.clear(conversationID, userID)
		return "", false
	}
}

// StartAdd begins the add-city flow. With no argument it asks for a city
// name; with one it goes straight to the lookup.
func (w *Wizard) StartAdd(ctx context.Context, conversationID, userID int64, arg string) string {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		if !w.put(conversationID, userID, &Pending{Step: StepCityName}) {
			return genericFailure
		}
		return "Which city should I add? Send its name, or /cancel."
	}
	return w.beginLookup(ctx, conversationID, userID, arg)
}

// StartRemove begins the remove-city flow. With no argument it lists the
// watched cities and waits for indices; with one it removes directly,
// matching the argument first against alias codes, then against names.
func (w *Wizard) StartRemove(conversationID, userID int64, arg string) string {
	list, ok := w.loadList(conversationID)
	if !ok {
		return genericFailure
	}

	arg = strings.TrimSpace(arg)
	if arg == "" {
		p := &Pending{Step: StepRemoval, Snapshot: list.Cities}
		if !w.put(conversationID, userID, p) {
			return genericFailure
		}
		var b strings.Builder
		b.WriteString("Which cities should I remove? Reply with their numbers:\n")
		for i, c := range list.Cities {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c.Name)
		}
		b.WriteString("Or /cancel.")
		return b.String()
	}

	target, ok := list.FindByAlias(arg)
	if !ok {
		target, ok = list.FindByName(arg)
	}
	if !ok {
		return fmt.Sprintf("I don't know %q — not an alias code or a city name here.", arg)
	}
	if err := list.Remove(target.Name); err != nil {
		return removalError(err)
	}
	if err := w.cities.Save(conversationID, list); err != nil {
		w.logger.Error("city list save failed", "conversation", conversationID, "error", err)
		return genericFailure
	}
	return fmt.Sprintf("Removed %s.", target.Name)
}

// StartCalendar begins the calendar-settings flow. Enabled settings enter
// the rename loop; disabled settings wait for a title that re-enables the
// link.
func (w *Wizard) StartCalendar(conversationID, userID int64) string {
	cal, ok := w.loadCalendar(conversationID)
	if !ok {
		return genericFailure
	}
	if cal.Enabled {
		if !w.put(conversationID, userID, &Pending{Step: StepCalendarRename}) {
			return genericFailure
		}
		return fmt.Sprintf("The calendar link is on, titled %q. Send a new title to rename it, /done to keep it, or /disable to turn it off.", cal.Title)
	}
	if !w.put(conversationID, userID, &Pending{Step: StepCalendarTitle}) {
		return genericFailure
	}
	return "The calendar link is off. Send an event title to turn it on, or /cancel."
}

func (w *Wizard) resumeCityName(ctx context.Context, conversationID, userID int64, text string) string {
	if text == "" {
		return "Send the name of the city to add, or /cancel."
	}
	return w.beginLookup(ctx, conversationID, userID, text)
}

// beginLookup runs the duplicate-name short circuit and the external
// lookup, then routes on the number of candidates.
func (w *Wizard) beginLookup(ctx context.Context, conversationID, userID int64, name string) string {
	list, ok := w.loadList(conversationID)
	if !ok {
		return genericFailure
	}
	if existing, found := list.FindByName(name); found {
		w.clear(conversationID, userID)
		return fmt.Sprintf("%s is already on the list.", existing.Name)
	}

	candidates, err := w.lookup.Lookup(ctx, name)
	if err != nil {
		w.logger.Warn("city lookup failed", "place", name, "error", err)
	}
	if len(candidates) == 0 {
		w.clear(conversationID, userID)
		return fmt.Sprintf("I couldn't find a city called %q. Try a more specific name.", name)
	}
	if len(candidates) == 1 {
		return w.toAliasStep(conversationID, userID, candidates[0], nil)
	}

	p := &Pending{Step: StepChoice, Candidates: candidates}
	if !w.put(conversationID, userID, p) {
		return genericFailure
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I found %d places:\n", len(candidates))
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.DisplayName)
	}
	b.WriteString("Reply with the number of the right one, or /cancel.")
	return b.String()
}

func (w *Wizard) resumeChoice(conversationID, userID int64, p *Pending, text string) string {
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 || n > len(p.Candidates) {
		// Invalid selections always re-prompt; nothing cancels silently.
		var b strings.Builder
		fmt.Fprintf(&b, "Please reply with a number between 1 and %d:\n", len(p.Candidates))
		for i, c := range p.Candidates {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c.DisplayName)
		}
		b.WriteString("Or /cancel.")
		return b.String()
	}
	return w.toAliasStep(conversationID, userID, p.Candidates[n-1], nil)
}

func (w *Wizard) toAliasStep(conversationID, userID int64, chosen geocode.Candidate, reserved []string) string {
	p := &Pending{
		Step:       StepAliases,
		CityName:   chosen.DisplayName,
		TimezoneID: chosen.TimezoneID,
		Reserved:   reserved,
	}
	if !w.put(conversationID, userID, p) {
		return genericFailure
	}
	return fmt.Sprintf("Adding %s (%s). Reply with one or more short alias codes for it, for example: ber b", chosen.DisplayName, chosen.TimezoneID)
}

func (w *Wizard) resumeAliases(conversationID, userID int64, p *Pending, text string) string {
	if strings.EqualFold(text, "/done") {
		if len(p.Reserved) == 0 {
			return "No alias codes accepted yet — send some codes, or /cancel."
		}
		return w.commitCity(conversationID, userID, p, p.Reserved)
	}

	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return "Send one or more alias codes separated by spaces, or /cancel."
	}

	list, ok := w.loadList(conversationID)
	if !ok {
		return genericFailure
	}

	accepted := append([]string(nil), p.Reserved...)
	taken := make(map[string]bool, len(accepted))
	for _, a := range accepted {
		taken[a] = true
	}
	var conflicts []string
	for _, tok := range tokens {
		if taken[tok] {
			continue
		}
		if owner, found := list.FindByAlias(tok); found {
			conflicts = append(conflicts, fmt.Sprintf("✖ %s — %s", tok, owner.Name))
			continue
		}
		taken[tok] = true
		accepted = append(accepted, tok)
	}

	if len(conflicts) > 0 {
		p.Reserved = accepted
		if !w.put(conversationID, userID, p) {
			return genericFailure
		}
		var b strings.Builder
		b.WriteString("Some codes are already taken:\n")
		b.WriteString(strings.Join(conflicts, "\n"))
		b.WriteString("\nSend replacement codes")
		if len(accepted) > 0 {
			fmt.Fprintf(&b, ", or /done to keep just: %s", strings.Join(accepted, " "))
		}
		b.WriteString(", or /cancel.")
		return b.String()
	}
	return w.commitCity(conversationID, userID, p, accepted)
}

// commitCity re-validates against a freshly loaded list (the race window on
// the shared store is narrowed, not eliminated) and persists the new city.
func (w *Wizard) commitCity(conversationID, userID int64, p *Pending, aliases []string) string {
	list, ok := w.loadList(conversationID)
	if !ok {
		return genericFailure
	}
	city := cities.City{Name: p.CityName, TimezoneID: p.TimezoneID, Aliases: aliases}
	if err := list.Add(city); err != nil {
		switch {
		case errors.Is(err, cities.ErrDuplicateCity):
			w.clear(conversationID, userID)
			return fmt.Sprintf("%s is already on the list.", p.CityName)
		case errors.Is(err, cities.ErrAliasConflict):
			// Someone claimed a code since the last check; start over on
			// codes but keep the city.
			p.Reserved = nil
			if !w.put(conversationID, userID, p) {
				return genericFailure
			}
			return fmt.Sprintf("Those codes just got taken (%v). Send different ones, or /cancel.", err)
		default:
			return "Send one or more alias codes separated by spaces, or /cancel."
		}
	}
	if err := w.cities.Save(conversationID, list); err != nil {
		w.logger.Error("city list save failed", "conversation", conversationID, "error", err)
		return genericFailure
	}
	w.clear(conversationID, userID)
	added, _ := list.FindByName(p.CityName)
	return fmt.Sprintf("Added %s (%s). Codes: %s", added.Name, added.TimezoneID, strings.Join(added.Aliases, " "))
}

func (w *Wizard) resumeRemoval(conversationID, userID int64, p *Pending, text string) string {
	var names []string
	for _, f := range strings.Fields(text) {
		n, err := strconv.Atoi(f)
		if err != nil || n < 1 || n > len(p.Snapshot) {
			// Out-of-range and non-numeric tokens are discarded.
			continue
		}
		names = append(names, p.Snapshot[n-1].Name)
	}
	if len(names) == 0 {
		w.clear(conversationID, userID)
		return "Nothing matched — removal cancelled."
	}

	list, ok := w.loadList(conversationID)
	if !ok {
		return genericFailure
	}
	if err := list.Remove(names...); err != nil {
		w.clear(conversationID, userID)
		return removalError(err)
	}
	if err := w.cities.Save(conversationID, list); err != nil {
		w.logger.Error("city list save failed", "conversation", conversationID, "error", err)
		return genericFailure
	}
	w.clear(conversationID, userID)
	return "Removed: " + strings.Join(names, ", ")
}

func (w *Wizard) resumeCalendarTitle(conversationID, userID int64, text string) string {
	if text == "" {
		return "Send a title for the calendar event, or /cancel."
	}
	cal := convert.Calendar{Enabled: true, Title: text}
	if err := w.calendars.Save(conversationID, cal); err != nil {
		w.logger.Error("calendar settings save failed", "conversation", conversationID, "error", err)
		return genericFailure
	}
	w.clear(conversationID, userID)
	return fmt.Sprintf("Calendar link is on, titled %q.", text)
}

func (w *Wizard) resumeCalendarRename(conversationID, userID int64, p *Pending, text string) string {
	switch {
	case strings.EqualFold(text, "/disable"):
		cal, ok := w.loadCalendar(conversationID)
		if !ok {
			return genericFailure
		}
		cal.Enabled = false
		if err := w.calendars.Save(conversationID, cal); err != nil {
			w.logger.Error("calendar settings save failed", "conversation", conversationID, "error", err)
			return genericFailure
		}
		w.clear(conversationID, userID)
		return "Calendar link is off."
	case strings.EqualFold(text, "/done"):
		cal, ok := w.loadCalendar(conversationID)
		if !ok {
			return genericFailure
		}
		w.clear(conversationID, userID)
		return fmt.Sprintf("Keeping the title %q.", cal.Title)
	case text == "":
		return "Send a new title, /done to keep the current one, or /disable."
	default:
		cal := convert.Calendar{Enabled: true, Title: text}
		if err := w.calendars.Save(conversationID, cal); err != nil {
			w.logger.Error("calendar settings save failed", "conversation", conversationID, "error", err)
			return genericFailure
		}
		// Self-loop: every further message renames again until /done or
		// /disable.
		if !w.put(conversationID, userID, p) {
			return genericFailure
		}
		return fmt.Sprintf("Renamed to %q. Send another title, /done to keep it, or /disable.", text)
	}
}

func removalError(err error) string {
	switch {
	case errors.Is(err, cities.ErrLastCity):
		return "At least one city has to stay on the list."
	case errors.Is(err, cities.ErrCityNotFound):
		return "None of those cities are on the list anymore."
	default:
		return genericFailure
	}
}

// loadList reads the conversation's city list, substituting the built-in
// starter set when none is stored yet.
func (w *Wizard) loadList(conversationID int64) (*cities.List, bool) {
	list, err := w.cities.List(conversationID)
	if err != nil {
		w.logger.Error("city list read failed", "conversation", conversationID, "error", err)
		return nil, false
	}
	if list == nil {
		list = cities.DefaultList()
	}
	return list, true
}

func (w *Wizard) loadCalendar(conversationID int64) (convert.Calendar, bool) {
	cal, found, err := w.calendars.Calendar(conversationID)
	if err != nil {
		w.logger.Error("calendar settings read failed", "conversation", conversationID, "error", err)
		return convert.Calendar{}, false
	}
	if !found {
		cal = convert.DefaultCalendar()
	}
	return cal, true
}

// put stamps and writes a pending record, reporting success. Writing also
// resets the inactivity clock.
func (w *Wizard) put(conversationID, userID int64, p *Pending) bool {
	p.CreatedAt = w.now()
	if err := w.pendings.Put(conversationID, userID, p); err != nil {
		w.logger.Error("pending store write failed", "conversation", conversationID, "error", err)
		return false
	}
	return true
}

func (w *Wizard) clear(conversationID, userID int64) {
	if err := w.pendings.Delete(conversationID, userID); err != nil {
		w.logger.Warn("pending store delete failed", "conversation", conversationID, "error", err)
	}
}
