package cities

import "errors"

// Sentinel errors for city-list mutations and lookups. Callers match with
// errors.Is and render user-facing text themselves.
var (
	// ErrAliasConflict is returned when an alias code is already claimed by
	// another city in the same conversation.
	ErrAliasConflict = errors.New("alias code already in use")

	// ErrDuplicateCity is returned when a city of the same name (compared
	// case-insensitively) is already watched.
	ErrDuplicateCity = errors.New("city already added")

	// ErrLastCity is returned when a removal would leave the list empty.
	ErrLastCity = errors.New("cannot remove the last remaining city")

	// ErrCityNotFound is returned when neither an alias nor a name matches.
	ErrCityNotFound = errors.New("city not found")

	// ErrInvalidSelection is returned for out-of-range numeric choices.
	ErrInvalidSelection = errors.New("invalid selection")
)
