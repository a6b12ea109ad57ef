// Package occurrence resolves agenda identifiers into either a virtual
// occurrence (rule + date, no row yet) or a concrete row id.
package occurrence

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"legalagenda/internal/dates"
	"legalagenda/internal/model"
)

// VirtualPrefix starts every virtual occurrence id.
const VirtualPrefix = "virtual_"

// Ref is either Virtual or Concrete. Identifiers are resolved into a Ref once,
// at the boundary, and passed around typed from then on.
type Ref interface {
	String() string
	isRef()
}

// Virtual addresses the occurrence of a recurrence rule on one date.
type Virtual struct {
	RecurrenceID string
	Date         dates.Date
}

func (v Virtual) String() string { return FormatVirtual(v.RecurrenceID, v.Date) }
func (Virtual) isRef()           {}

// Concrete addresses an existing task, event or hearing row.
type Concrete struct {
	ID string
}

func (c Concrete) String() string { return c.ID }
func (Concrete) isRef()           {}

// FormatVirtual encodes virtual_{recurrenceId}_{YYYY-MM-DD}.
func FormatVirtual(recurrenceID string, d dates.Date) string {
	return VirtualPrefix + recurrenceID + "_" + d.String()
}

// IsVirtual reports whether id carries the virtual prefix. It does not
// validate the rest of the encoding.
func IsVirtual(id string) bool {
	return strings.HasPrefix(id, VirtualPrefix)
}

// ParseVirtual decodes a virtual id. The id must split on "_" into exactly
// three tokens: the literal "virtual", a UUID and a YYYY-MM-DD date.
func ParseVirtual(id string) (Virtual, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0]+"_" != VirtualPrefix {
		return Virtual{}, fmt.Errorf("%w: %q", model.ErrInvalidVirtualID, id)
	}
	if _, err := uuid.Parse(parts[1]); err != nil || len(parts[1]) != 36 {
		return Virtual{}, fmt.Errorf("%w: %q: bad recurrence id", model.ErrInvalidVirtualID, id)
	}
	d, err := dates.Parse(parts[2])
	if err != nil {
		return Virtual{}, fmt.Errorf("%w: %q: bad date", model.ErrInvalidVirtualID, id)
	}
	return Virtual{RecurrenceID: parts[1], Date: d}, nil
}

// Resolve turns any agenda identifier into a Ref. Non-virtual ids are
// returned as Concrete unchanged; malformed virtual ids fail with
// model.ErrInvalidVirtualID.
func Resolve(id string) (Ref, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", model.ErrNotFound)
	}
	if !IsVirtual(id) {
		return Concrete{ID: id}, nil
	}
	v, err := ParseVirtual(id)
	if err != nil {
		return nil, err
	}
	return v, nil
}
