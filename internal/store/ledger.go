package store

import (
	"encoding/json"
	"fmt"
)

// Ledger is the ordered comment thread of a request. Entries are addressed by
// position; there is no per-comment identifier.
type Ledger []Comment

func (l Ledger) Len() int {
	return len(l)
}

// At returns the comment at index.
func (l Ledger) At(index int) (Comment, error) {
	if index < 0 || index >= len(l) {
		return Comment{}, fmt.Errorf("%w: index %d, count %d", ErrOutOfRange, index, len(l))
	}
	return l[index], nil
}

// Append returns a new ledger with c at the end. The receiver is not modified.
func (l Ledger) Append(c Comment) Ledger {
	next := make(Ledger, 0, len(l)+1)
	next = append(next, l...)
	return append(next, c)
}

// RemoveAt returns a new ledger without the entry at index. Entries with the
// same content elsewhere in the ledger are kept.
func (l Ledger) RemoveAt(index int) (Ledger, error) {
	if _, err := l.At(index); err != nil {
		return nil, err
	}
	next := make(Ledger, 0, len(l)-1)
	next = append(next, l[:index]...)
	return append(next, l[index+1:]...), nil
}

// MarshalJSON encodes an empty ledger as [] rather than null.
func (l Ledger) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Comment(l))
}

func (l Ledger) normalize() Ledger {
	if l == nil {
		return Ledger{}
	}
	return l
}
