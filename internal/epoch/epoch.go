// Package epoch resolves operational satellite roles to physical
// spacecraft codes. A role like GOES-EAST is served by different
// spacecraft over time; the cutover instants form an immutable
// assignment table fixed at construction.
package epoch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNoAssignment is returned when a role has no spacecraft assigned at
// the requested instant.
var ErrNoAssignment = errors.New("no spacecraft assigned to role at instant")

// Assignment maps a role to a spacecraft code starting at From. An
// assignment is open-ended; it is superseded by the next assignment for
// the same role.
type Assignment struct {
	Role string    `yaml:"role"` // "GOES-EAST" | "GOES-WEST"
	Code string    `yaml:"code"` // "G16", "G18", "G19", ...
	From time.Time `yaml:"from"` // operational cutover instant (UTC); zero = since forever
}

// Table is an immutable role→code lookup table.
type Table struct {
	byRole map[string][]Assignment
}

// Default returns the operational assignment history for the GOES roles.
func Default() *Table {
	t, err := NewTable([]Assignment{
		{Role: "GOES-EAST", Code: "G16"},
		{Role: "GOES-EAST", Code: "G19", From: time.Date(2025, 4, 7, 0, 0, 0, 0, time.UTC)},
		{Role: "GOES-WEST", Code: "G17"},
		{Role: "GOES-WEST", Code: "G18", From: time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC)},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// NewTable builds a table from assignments. Assignments for each role are
// sorted by cutover instant; two assignments for the same role may not
// share the same instant.
func NewTable(assignments []Assignment) (*Table, error) {
	if len(assignments) == 0 {
		return nil, errors.New("at least one assignment must be configured")
	}

	byRole := make(map[string][]Assignment)
	for _, a := range assignments {
		if a.Role == "" || a.Code == "" {
			return nil, fmt.Errorf("assignment missing role or code: %+v", a)
		}
		byRole[a.Role] = append(byRole[a.Role], a)
	}

	for role, list := range byRole {
		sort.Slice(list, func(i, j int) bool { return list[i].From.Before(list[j].From) })
		for i := 0; i < len(list)-1; i++ {
			if list[i].From.Equal(list[i+1].From) {
				return nil, fmt.Errorf("role %q has two assignments from %s",
					role, list[i].From.Format(time.RFC3339))
			}
		}
		byRole[role] = list
	}

	return &Table{byRole: byRole}, nil
}

// CodeFor resolves the spacecraft code serving a satellite name at the
// given instant. Literal names ("GOES-16") resolve without the table;
// roles resolve to the latest assignment not after the instant.
func (t *Table) CodeFor(satellite string, at time.Time) (string, error) {
	if list, ok := t.byRole[satellite]; ok {
		at = at.UTC()
		var code string
		for _, a := range list {
			if a.From.After(at) {
				break
			}
			code = a.Code
		}
		if code == "" {
			return "", fmt.Errorf("%w: %s at %s", ErrNoAssignment, satellite, at.Format(time.RFC3339))
		}
		return code, nil
	}

	// "GOES-16" style literals map directly to their code.
	if i := strings.LastIndex(satellite, "-"); i >= 0 && i < len(satellite)-1 {
		return "G" + satellite[i+1:], nil
	}
	return satellite, nil
}

// Roles returns the configured role names, sorted.
func (t *Table) Roles() []string {
	roles := make([]string, 0, len(t.byRole))
	for r := range t.byRole {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// BucketFor returns the mirror bucket name for a spacecraft code, e.g.
// G16 → noaa-goes16.
func BucketFor(code string) string {
	return "noaa-goes" + strings.TrimPrefix(code, "G")
}
