package wizard

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/tzChat/pkg/cities"
	"github.com/codeGROOVE-dev/tzChat/pkg/convert"
	"github.com/codeGROOVE-dev/tzChat/pkg/geocode"
)

type fakeCityStore struct {
	lists map[int64]*cities.List
}

func (s *fakeCityStore) List(conversationID int64) (*cities.List, error) {
	l, ok := s.lists[conversationID]
	if !ok {
		return nil, nil
	}
	cp := &cities.List{Cities: append([]cities.City(nil), l.Cities...)}
	return cp, nil
}

func (s *fakeCityStore) Save(conversationID int64, list *cities.List) error {
	s.lists[conversationID] = list
	return nil
}

type pendingKey struct{ conv, user int64 }

type fakePendingStore struct {
	records map[pendingKey]*Pending
}

func (s *fakePendingStore) Get(conversationID, userID int64) (*Pending, error) {
	return s.records[pendingKey{conversationID, userID}], nil
}

func (s *fakePendingStore) Put(conversationID, userID int64, p *Pending) error {
	cp := *p
	s.records[pendingKey{conversationID, userID}] = &cp
	return nil
}

func (s *fakePendingStore) Delete(conversationID, userID int64) error {
	delete(s.records, pendingKey{conversationID, userID})
	return nil
}

type fakeCalendarStore struct {
	settings map[int64]convert.Calendar
}

func (s *fakeCalendarStore) Calendar(conversationID int64) (convert.Calendar, bool, error) {
	cal, ok := s.settings[conversationID]
	return cal, ok, nil
}

func (s *fakeCalendarStore) Save(conversationID int64, cal convert.Calendar) error {
	s.settings[conversationID] = cal
	return nil
}

type fakeLookup struct {
	results map[string][]geocode.Candidate
	err     error
}

func (f *fakeLookup) Lookup(_ context.Context, place string) ([]geocode.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results[strings.ToLower(place)], nil
}

type fixture struct {
	wizard    *Wizard
	cities    *fakeCityStore
	pendings  *fakePendingStore
	calendars *fakeCalendarStore
	lookup    *fakeLookup
	now       time.Time
}

const (
	conv int64 = 100
	user int64 = 7
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cities:    &fakeCityStore{lists: make(map[int64]*cities.List)},
		pendings:  &fakePendingStore{records: make(map[pendingKey]*Pending)},
		calendars: &fakeCalendarStore{settings: make(map[int64]convert.Calendar)},
		lookup:    &fakeLookup{results: make(map[string][]geocode.Candidate)},
		now:       time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	f.wizard = New(f.cities, f.pendings, f.calendars, f.lookup, nil,
		WithNow(func() time.Time { return f.now }))
	return f
}

func (f *fixture) pending() *Pending {
	return f.pendings.records[pendingKey{conv, user}]
}

func (f *fixture) list() *cities.List {
	l, ok := f.cities.lists[conv]
	if !ok {
		return cities.DefaultList()
	}
	return l
}

func TestAddFlowSingleCandidate(t *testing.T) {
	f := newFixture(t)
	f.lookup.results["london"] = []geocode.Candidate{
		{DisplayName: "London, UK", TimezoneID: "Europe/London"},
	}
	ctx := context.Background()

	reply := f.wizard.StartAdd(ctx, conv, user, "")
	if !strings.Contains(reply, "Which city") {
		t.Fatalf("StartAdd prompt = %q", reply)
	}
	if f.pending().Step != StepCityName {
		t.Fatalf("step = %s, want %s", f.pending().Step, StepCityName)
	}

	reply, handled := f.wizard.Resume(ctx, conv, user, "London")
	if !handled || !strings.Contains(reply, "alias codes") {
		t.Fatalf("city-name reply = %q handled=%v", reply, handled)
	}
	if f.pending().Step != StepAliases {
		t.Fatalf("step = %s, want %s", f.pending().Step, StepAliases)
	}

	reply, handled = f.wizard.Resume(ctx, conv, user, "L lon")
	if !handled || !strings.Contains(reply, "Added London, UK") {
		t.Fatalf("commit reply = %q handled=%v", reply, handled)
	}
	if f.pending() != nil {
		t.Error("pending record should be cleared after commit")
	}
	city, ok := f.list().FindByAlias("lon")
	if !ok || city.Name != "London, UK" || city.TimezoneID != "Europe/London" {
		t.Errorf("persisted city = %+v ok=%v", city, ok)
	}
}

func TestAddFlowDisambiguation(t *testing.T) {
	f := newFixture(t)
	f.lookup.results["springfield"] = []geocode.Candidate{
		{DisplayName: "Springfield, IL", TimezoneID: "America/Chicago"},
		{DisplayName: "Springfield, MA", TimezoneID: "America/New_York"},
		{DisplayName: "Springfield, MO", TimezoneID: "America/Chicago"},
	}
	ctx := context.Background()

	reply := f.wizard.StartAdd(ctx, conv, user, "Springfield")
	if !strings.Contains(reply, "1. Springfield, IL") || !strings.Contains(reply, "3. Springfield, MO") {
		t.Fatalf("disambiguation prompt = %q", reply)
	}
	if f.pending().Step != StepChoice {
		t.Fatalf("step = %s, want %s", f.pending().Step, StepChoice)
	}

	// Garbage and out-of-range picks re-prompt without advancing.
	for _, bad := range []string{"maybe", "0", "4", "-1"} {
		reply, handled := f.wizard.Resume(ctx, conv, user, bad)
		if !handled || !strings.Contains(reply, "between 1 and 3") {
			t.Fatalf("Resume(%q) = %q handled=%v, want re-prompt", bad, reply, handled)
		}
		if f.pending().Step != StepChoice {
			t.Fatalf("step after %q = %s, want unchanged", bad, f.pending().Step)
		}
	}

	reply, _ = f.wizard.Resume(ctx, conv, user, "2")
	if !strings.Contains(reply, "Springfield, MA") {
		t.Fatalf("choice reply = %q", reply)
	}
	if got := f.pending(); got.Step != StepAliases || got.TimezoneID != "America/New_York" {
		t.Errorf("pending after choice = %+v", got)
	}
}

func TestAddFlowDuplicateShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply := f.wizard.StartAdd(ctx, conv, user, "paris")
	if !strings.Contains(reply, "already on the list") {
		t.Fatalf("duplicate reply = %q", reply)
	}
	if f.pending() != nil {
		t.Error("no pending record should survive a duplicate short-circuit")
	}
}

func TestAddFlowNotFound(t *testing.T) {
	f := newFixture(t)
	reply := f.wizard.StartAdd(context.Background(), conv, user, "Atlantis")
	if !strings.Contains(reply, "couldn't find") {
		t.Fatalf("not-found reply = %q", reply)
	}
	if f.pending() != nil {
		t.Error("no pending record should survive a failed lookup")
	}
}

func TestAliasConflictReservesGoodTokens(t *testing.T) {
	f := newFixture(t)
	f.lookup.results["london"] = []geocode.Candidate{
		{DisplayName: "London, UK", TimezoneID: "Europe/London"},
	}
	ctx := context.Background()

	// Claim "l" first.
	f.cities.lists[conv] = cities.DefaultList()
	if err := f.cities.lists[conv].Add(cities.City{Name: "Lisbon", TimezoneID: "Europe/Lisbon", Aliases: []string{"l"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.wizard.StartAdd(ctx, conv, user, "London")
	reply, _ := f.wizard.Resume(ctx, conv, user, "l lon")
	if !strings.Contains(reply, "✖ l — Lisbon") {
		t.Fatalf("conflict reply = %q, want per-conflict line", reply)
	}
	p := f.pending()
	if p == nil || p.Step != StepAliases {
		t.Fatal("wizard must stay in the alias step on conflict")
	}
	if len(p.Reserved) != 1 || p.Reserved[0] != "lon" {
		t.Errorf("reserved = %v, want [lon]", p.Reserved)
	}
	if _, ok := f.list().FindByName("London, UK"); ok {
		t.Error("nothing may be persisted while codes conflict")
	}

	// /done commits just the reserved set.
	reply, _ = f.wizard.Resume(ctx, conv, user, "/done")
	if !strings.Contains(reply, "Added London, UK") || !strings.Contains(reply, "lon") {
		t.Fatalf("done reply = %q", reply)
	}
	if city, ok := f.list().FindByAlias("lon"); !ok || city.Name != "London, UK" {
		t.Error("reserved aliases not committed")
	}
}

func TestDoneWithNothingReserved(t *testing.T) {
	f := newFixture(t)
	f.lookup.results["london"] = []geocode.Candidate{
		{DisplayName: "London, UK", TimezoneID: "Europe/London"},
	}
	ctx := context.Background()
	f.wizard.StartAdd(ctx, conv, user, "London")

	reply, handled := f.wizard.Resume(ctx, conv, user, "/done")
	if !handled || !strings.Contains(reply, "No alias codes") {
		t.Fatalf("reply = %q handled=%v", reply, handled)
	}
	if f.pending() == nil {
		t.Error("empty /done must not clear the dialog")
	}
}

func TestCancelIsSilent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.wizard.StartAdd(ctx, conv, user, "")

	reply, handled := f.wizard.Resume(ctx, conv, user, "/cancel")
	if !handled || reply != "" {
		t.Fatalf("cancel = (%q, %v), want silent handled", reply, handled)
	}
	if f.pending() != nil {
		t.Error("pending record must be cleared on /cancel")
	}
}

func TestRemovalFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply := f.wizard.StartRemove(conv, user, "")
	if !strings.Contains(reply, "1. Paris") || !strings.Contains(reply, "4. Moscow") {
		t.Fatalf("removal listing = %q", reply)
	}
	if len(f.pending().Snapshot) != 4 {
		t.Fatalf("snapshot size = %d, want 4", len(f.pending().Snapshot))
	}

	// Index 5 is out of range against a 4-city snapshot and is discarded;
	// index 1 removes Paris.
	reply, _ = f.wizard.Resume(ctx, conv, user, "1 5")
	if !strings.Contains(reply, "Removed: Paris") {
		t.Fatalf("removal reply = %q", reply)
	}
	if _, ok := f.list().FindByName("Paris"); ok {
		t.Error("Paris should be gone")
	}
	if len(f.list().Cities) != 3 {
		t.Errorf("%d cities left, want 3", len(f.list().Cities))
	}
	if f.pending() != nil {
		t.Error("pending record should be cleared")
	}
}

func TestRemovalAllIndicesInvalidCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.wizard.StartRemove(conv, user, "")

	reply, handled := f.wizard.Resume(ctx, conv, user, "9 nope 0")
	if !handled || !strings.Contains(reply, "cancelled") {
		t.Fatalf("reply = %q handled=%v", reply, handled)
	}
	if f.pending() != nil {
		t.Error("pending record should be cleared")
	}
	if len(f.list().Cities) != 4 {
		t.Error("nothing should have been removed")
	}
}

func TestRemovalGuardsLastCity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.wizard.StartRemove(conv, user, "")

	reply, _ := f.wizard.Resume(ctx, conv, user, "1 2 3 4")
	if !strings.Contains(reply, "At least one city") {
		t.Fatalf("reply = %q, want last-city guard", reply)
	}
	if len(f.list().Cities) != 4 {
		t.Error("batch must fail whole; nothing removed")
	}
}

func TestDirectRemoveByAliasAndName(t *testing.T) {
	f := newFixture(t)

	reply := f.wizard.StartRemove(conv, user, "m")
	if !strings.Contains(reply, "Removed Moscow") {
		t.Fatalf("remove by alias = %q", reply)
	}
	reply = f.wizard.StartRemove(conv, user, "yerevan")
	if !strings.Contains(reply, "Removed Yerevan") {
		t.Fatalf("remove by name = %q", reply)
	}
	reply = f.wizard.StartRemove(conv, user, "xyz")
	if !strings.Contains(reply, "don't know") {
		t.Fatalf("remove unknown = %q", reply)
	}
}

func TestExpiredPendingIsAbsent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.wizard.StartAdd(ctx, conv, user, "")

	f.now = f.now.Add(DefaultTTL + time.Second)
	reply, handled := f.wizard.Resume(ctx, conv, user, "London")
	if handled {
		t.Fatalf("expired dialog consumed the message: %q", reply)
	}
	if f.pending() != nil {
		t.Error("expired record should be deleted on read")
	}
}

func TestCalendarRenameLoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply := f.wizard.StartCalendar(conv, user)
	if !strings.Contains(reply, convert.DefaultCalendarTitle) {
		t.Fatalf("calendar prompt = %q", reply)
	}
	if f.pending().Step != StepCalendarRename {
		t.Fatalf("step = %s", f.pending().Step)
	}

	reply, _ = f.wizard.Resume(ctx, conv, user, "Standup")
	if !strings.Contains(reply, `Renamed to "Standup"`) {
		t.Fatalf("rename reply = %q", reply)
	}
	if f.pending() == nil || f.pending().Step != StepCalendarRename {
		t.Fatal("rename must self-loop")
	}

	// Rename again without re-issuing the command.
	f.wizard.Resume(ctx, conv, user, "Retro")
	if got := f.calendars.settings[conv]; got.Title != "Retro" || !got.Enabled {
		t.Errorf("settings = %+v, want enabled Retro", got)
	}

	reply, _ = f.wizard.Resume(ctx, conv, user, "/done")
	if !strings.Contains(reply, "Keeping") {
		t.Fatalf("done reply = %q", reply)
	}
	if f.pending() != nil {
		t.Error("pending record should be cleared after /done")
	}
}

func TestCalendarDisableAndReenable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.wizard.StartCalendar(conv, user)
	reply, _ := f.wizard.Resume(ctx, conv, user, "/disable")
	if !strings.Contains(reply, "off") {
		t.Fatalf("disable reply = %q", reply)
	}
	if got := f.calendars.settings[conv]; got.Enabled {
		t.Error("calendar should be disabled")
	}

	reply = f.wizard.StartCalendar(conv, user)
	if !strings.Contains(reply, "off") {
		t.Fatalf("prompt for disabled calendar = %q", reply)
	}
	if f.pending().Step != StepCalendarTitle {
		t.Fatalf("step = %s, want %s", f.pending().Step, StepCalendarTitle)
	}

	reply, _ = f.wizard.Resume(ctx, conv, user, "Game night")
	if !strings.Contains(reply, `"Game night"`) {
		t.Fatalf("enable reply = %q", reply)
	}
	if got := f.calendars.settings[conv]; !got.Enabled || got.Title != "Game night" {
		t.Errorf("settings = %+v", got)
	}
	if f.pending() != nil {
		t.Error("pending record should be cleared after enabling")
	}
}

func TestLookupFailureReadsAsNotFound(t *testing.T) {
	f := newFixture(t)
	f.lookup.err = geocode.ErrUnavailable

	reply := f.wizard.StartAdd(context.Background(), conv, user, "London")
	if !strings.Contains(reply, "couldn't find") {
		t.Fatalf("reply = %q, want not-found wording", reply)
	}
}
