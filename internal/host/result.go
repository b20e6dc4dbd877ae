package host

import (
	"errors"
	"fmt"

	"github.com/roach88/subxact/internal/datum"
)

var (
	// ErrNoRows is returned when a result set has no row at the requested position.
	ErrNoRows = errors.New("result set has no such row")

	// ErrNoColumn is returned for a column ordinal outside the result set.
	ErrNoColumn = errors.New("result set has no such column")

	// ErrTypeMismatch is returned when a cell does not hold the requested type.
	ErrTypeMismatch = errors.New("cell type mismatch")
)

// ResultSet is what a command produced.
type ResultSet struct {
	Columns []string
	Rows    []datum.Row

	// Processed is the number of rows returned, or for commands without a
	// result the number of rows they changed.
	Processed int64
}

// Len returns the number of rows.
func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// First returns the first row.
func (r *ResultSet) First() (datum.Row, error) {
	if r.Len() == 0 {
		return nil, ErrNoRows
	}
	return r.Rows[0], nil
}

// Get returns the cell at row and col, both zero based.
func (r *ResultSet) Get(row, col int) (datum.Value, error) {
	if row < 0 || row >= r.Len() {
		return nil, fmt.Errorf("row %d: %w", row, ErrNoRows)
	}
	cells := r.Rows[row]
	if col < 0 || col >= len(cells) {
		return nil, fmt.Errorf("column %d: %w", col, ErrNoColumn)
	}
	return cells[col], nil
}

// Int returns the integer at row and col.
func (r *ResultSet) Int(row, col int) (int64, error) {
	v, err := r.Get(row, col)
	if err != nil {
		return 0, err
	}
	n, ok := datum.AsInt(v)
	if !ok {
		return 0, fmt.Errorf("row %d column %d is %T: %w", row, col, v, ErrTypeMismatch)
	}
	return n, nil
}

// Text returns the text at row and col.
func (r *ResultSet) Text(row, col int) (string, error) {
	v, err := r.Get(row, col)
	if err != nil {
		return "", err
	}
	s, ok := datum.AsText(v)
	if !ok {
		return "", fmt.Errorf("row %d column %d is %T: %w", row, col, v, ErrTypeMismatch)
	}
	return s, nil
}
