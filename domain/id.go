package domain

import (
	"bytes"
	"errors"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// PendingPrefix marks placeholder identifiers when they leave the process
// (persisted snapshots, rendering keys).
const PendingPrefix = "temp_"

var errEmptyID = errors.New("empty identifier")

// ID identifies a column or task. It is either Authoritative (assigned by the
// server) or Pending (a local token for an entity created optimistically).
// The zero value is an empty authoritative ID.
type ID struct {
	value   string
	pending bool
}

// Authoritative wraps a server-assigned identifier.
func Authoritative(id string) ID {
	return ID{value: id}
}

// Pending wraps a locally generated token.
func Pending(token string) ID {
	return ID{value: token, pending: true}
}

// NewPending returns a Pending ID with a fresh random token.
func NewPending() ID {
	return Pending(uuid.NewString())
}

// ParseID maps the wire form back to an ID. Strings carrying PendingPrefix
// become Pending.
func ParseID(s string) ID {
	if tok, ok := strings.CutPrefix(s, PendingPrefix); ok && tok != "" {
		return Pending(tok)
	}
	return Authoritative(s)
}

func (id ID) IsPending() bool { return id.pending }

func (id ID) IsZero() bool { return id.value == "" }

// Value returns the raw identifier or token without any prefix.
func (id ID) Value() string { return id.value }

// String returns the wire form: the raw value for authoritative IDs and
// PendingPrefix+token for pending ones.
func (id ID) String() string {
	if id.pending {
		return PendingPrefix + id.value
	}
	return id.value
}

func (id ID) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(id.String())
}

// UnmarshalJSON treats null as the zero ID.
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*id = ID{}
		return nil
	}
	var s string
	if err := sonic.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return errEmptyID
	}
	*id = ParseID(s)
	return nil
}
