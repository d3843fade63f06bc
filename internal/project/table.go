// Package project holds the host-side state that pages query and observe:
// the data table, the linked highlight (selection), the current time step and
// the spatial weights registry.
package project

import (
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/GeoDaCenter/gdabridge/internal/protocol"
)

type ColumnType string

const (
	TypeReal    ColumnType = "real"
	TypeInteger ColumnType = "integer"
	TypeString  ColumnType = "string"
)

var (
	ErrUnknownColumn = errors.New("unknown column")
	ErrOutOfRange    = errors.New("value out of range")
)

// Column is one table field. Data holds one slice per time step; a
// time-invariant column has a single step.
type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Decimals int        `json:"displayed_decimals"`
	Data     [][]any    `json:"data"`
}

func (c Column) TimeVariant() bool { return len(c.Data) > 1 }

// Step returns the data of time step t, clamped for time-invariant columns.
func (c Column) Step(t int) ([]any, error) {
	if !c.TimeVariant() {
		t = 0
	}
	if t < 0 || t >= len(c.Data) {
		return nil, fmt.Errorf("%w: time %d for column %s", ErrOutOfRange, t, c.Name)
	}
	return c.Data[t], nil
}

type Table struct {
	TimeSteps []string `json:"time_steps"`
	Columns   []Column `json:"columns"`

	rows int
}

// LoadTable reads a table file. Files may carry comments and trailing commas.
func LoadTable(path string) (*Table, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read table failed: %w", err)
	}
	return ParseTable(content)
}

func ParseTable(content []byte) (*Table, error) {
	std, err := hujson.Standardize(content)
	if err != nil {
		return nil, fmt.Errorf("parse table failed: %w", err)
	}
	var t Table
	if err := protocol.Unmarshal(std, &t); err != nil {
		return nil, fmt.Errorf("parse table failed: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) validate() error {
	if len(t.TimeSteps) == 0 {
		t.TimeSteps = []string{""}
	}
	t.rows = -1
	for i := range t.Columns {
		c := &t.Columns[i]
		if c.Name == "" {
			return fmt.Errorf("column %d has no name", i)
		}
		switch c.Type {
		case TypeReal, TypeInteger, TypeString:
		case "":
			c.Type = TypeReal
		default:
			return fmt.Errorf("column %s: unknown type %q", c.Name, c.Type)
		}
		if len(c.Data) != 1 && len(c.Data) != len(t.TimeSteps) {
			return fmt.Errorf("column %s: %d time steps, table has %d", c.Name, len(c.Data), len(t.TimeSteps))
		}
		for _, step := range c.Data {
			if t.rows < 0 {
				t.rows = len(step)
			}
			if len(step) != t.rows {
				return fmt.Errorf("column %s: %d rows, table has %d", c.Name, len(step), t.rows)
			}
		}
	}
	if t.rows < 0 {
		t.rows = 0
	}
	return nil
}

// Rows is the number of observations.
func (t *Table) Rows() int { return t.rows }

func (t *Table) Column(col int) (Column, error) {
	if col < 0 || col >= len(t.Columns) {
		return Column{}, fmt.Errorf("%w: %d", ErrUnknownColumn, col)
	}
	return t.Columns[col], nil
}

// ColumnByName returns the index of the named column.
func (t *Table) ColumnByName(name string) (int, bool) {
	for i, c := range t.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return -1, false
}

// TimeLabel returns the label of time step i.
func (t *Table) TimeLabel(i int) string {
	if i < 0 || i >= len(t.TimeSteps) {
		return ""
	}
	return t.TimeSteps[i]
}
