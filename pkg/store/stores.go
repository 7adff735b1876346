package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/tzChat/pkg/cities"
	"github.com/codeGROOVE-dev/tzChat/pkg/convert"
	"github.com/codeGROOVE-dev/tzChat/pkg/wizard"
)

// The typed stores are thin JSON codecs over the KV, one namespace each.
const (
	nsCities   = "cities"
	nsPending  = "pending"
	nsCalendar = "calendar"
)

// CityStore persists watched-city lists per conversation.
type CityStore struct {
	kv *KV
}

// NewCityStore wraps the KV.
func NewCityStore(kv *KV) *CityStore { return &CityStore{kv: kv} }

// List returns the stored list or nil when the conversation has none yet;
// the caller substitutes the built-in default.
func (s *CityStore) List(conversationID int64) (*cities.List, error) {
	data, ok := s.kv.Get(nsCities, strconv.FormatInt(conversationID, 10))
	if !ok {
		return nil, nil
	}
	var list cities.List
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decoding city list: %w", err)
	}
	return &list, nil
}

// Save persists the list. City lists never expire.
func (s *CityStore) Save(conversationID int64, list *cities.List) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encoding city list: %w", err)
	}
	return s.kv.Set(nsCities, strconv.FormatInt(conversationID, 10), data, 0)
}

// PendingStore persists in-flight wizard records with a TTL.
type PendingStore struct {
	kv  *KV
	ttl time.Duration
}

// NewPendingStore wraps the KV. ttl <= 0 falls back to the wizard default.
func NewPendingStore(kv *KV, ttl time.Duration) *PendingStore {
	if ttl <= 0 {
		ttl = wizard.DefaultTTL
	}
	return &PendingStore{kv: kv, ttl: ttl}
}

func pendingKey(conversationID, userID int64) string {
	return strconv.FormatInt(conversationID, 10) + ":" + strconv.FormatInt(userID, 10)
}

// Get returns the live record or nil.
func (s *PendingStore) Get(conversationID, userID int64) (*wizard.Pending, error) {
	data, ok := s.kv.Get(nsPending, pendingKey(conversationID, userID))
	if !ok {
		return nil, nil
	}
	var p wizard.Pending
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding pending record: %w", err)
	}
	return &p, nil
}

// Put stores the record with the configured TTL.
func (s *PendingStore) Put(conversationID, userID int64, p *wizard.Pending) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding pending record: %w", err)
	}
	return s.kv.Set(nsPending, pendingKey(conversationID, userID), data, s.ttl)
}

// Delete removes the record.
func (s *PendingStore) Delete(conversationID, userID int64) error {
	s.kv.Delete(nsPending, pendingKey(conversationID, userID))
	return nil
}

// CalendarStore persists calendar-link settings per conversation.
type CalendarStore struct {
	kv *KV
}

// NewCalendarStore wraps the KV.
func NewCalendarStore(kv *KV) *CalendarStore { return &CalendarStore{kv: kv} }

// Calendar returns the stored settings; found=false means the conversation
// still runs on defaults.
func (s *CalendarStore) Calendar(conversationID int64) (convert.Calendar, bool, error) {
	data, ok := s.kv.Get(nsCalendar, strconv.FormatInt(conversationID, 10))
	if !ok {
		return convert.Calendar{}, false, nil
	}
	var cal convert.Calendar
	if err := json.Unmarshal(data, &cal); err != nil {
		return convert.Calendar{}, false, fmt.Errorf("decoding calendar settings: %w", err)
	}
	return cal, true, nil
}

// Save persists the settings. Calendar settings never expire.
func (s *CalendarStore) Save(conversationID int64, cal convert.Calendar) error {
	data, err := json.Marshal(cal)
	if err != nil {
		return fmt.Errorf("encoding calendar settings: %w", err)
	}
	return s.kv.Set(nsCalendar, strconv.FormatInt(conversationID, 10), data, 0)
}
