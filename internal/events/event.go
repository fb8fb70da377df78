// Package events holds the event record type and the persistence gateway
// over the webdevsite table.
//
// Every statement is parameterized. The only identifier ever interpolated
// into SQL is a Column, which can only hold one of the allow-listed names.
package events

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no row has the requested id.
	ErrNotFound = errors.New("event not found")
	// ErrInvalidColumn is returned by ParseColumn for names outside the allow-list.
	ErrInvalidColumn = errors.New("invalid column")
	// ErrMissingField is wrapped by Fields.Validate with the offending field name.
	ErrMissingField = errors.New("missing required field")
)

// Event is one row of the webdevsite table.
type Event struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Event     string `json:"event"`
	Venue     string `json:"venue"`
	Topic     string `json:"topic"`
	Details   string `json:"details"`
	Image     string `json:"image"`
	Timestamp string `json:"timestamp"`
}

// Fields are the user-editable text columns of an event.
type Fields struct {
	Name    string
	Event   string
	Venue   string
	Topic   string
	Details string
}

// Normalize returns a copy with surrounding whitespace removed.
func (f Fields) Normalize() Fields {
	return Fields{
		Name:    strings.TrimSpace(f.Name),
		Event:   strings.TrimSpace(f.Event),
		Venue:   strings.TrimSpace(f.Venue),
		Topic:   strings.TrimSpace(f.Topic),
		Details: strings.TrimSpace(f.Details),
	}
}

// Validate reports the first blank field.
func (f Fields) Validate() error {
	checks := []struct {
		name  string
		value string
	}{
		{"name", f.Name},
		{"event", f.Event},
		{"venue", f.Venue},
		{"topic", f.Topic},
		{"details", f.Details},
	}
	for _, c := range checks {
		if strings.TrimSpace(c.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, c.name)
		}
	}
	return nil
}

// ImageRef returns the parsed image reference of the event.
func (e Event) ImageRef() Image {
	return ParseImage(e.Image)
}

// Column is an allow-listed column that may be used as a search or distinct key.
type Column string

const (
	ColumnName  Column = "name"
	ColumnEvent Column = "event"
	ColumnVenue Column = "venue"
	ColumnTopic Column = "topic"
)

// Columns lists every allow-listed column.
var Columns = []Column{ColumnName, ColumnEvent, ColumnVenue, ColumnTopic}

// ParseColumn accepts exactly one of the allow-listed column names.
func ParseColumn(s string) (Column, error) {
	for _, c := range Columns {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidColumn, s)
}

func (c Column) String() string { return string(c) }
