package decoder

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/KevinKickass/dbscada/internal/types"
)

// FieldSpec maps one column to a word offset inside the block.
// A Divisor of 1 stores the raw word as integer.
type FieldSpec struct {
	Name    string
	Offset  int
	Divisor uint16
}

// Column returns the column name as PostgreSQL stores unquoted identifiers.
func (f FieldSpec) Column() string {
	return strings.ToLower(f.Name)
}

// Layout is the decoding rule for one table.
type Layout struct {
	Table  types.TableID
	Words  int
	Fields []FieldSpec
}

// Columns returns the insert column list, timestamp first.
func (l *Layout) Columns() []string {
	cols := make([]string, 0, len(l.Fields)+1)
	cols = append(cols, "timestamp")
	for _, f := range l.Fields {
		cols = append(cols, f.Column())
	}
	return cols
}

// Decode turns a register block into a record. It never returns a partial record.
func (l *Layout) Decode(block types.RegisterBlock, at time.Time) (types.TelemetryRecord, error) {
	if block.Failed() {
		return types.TelemetryRecord{}, fmt.Errorf("%w: table %s: block carries exception: %v",
			types.ErrDecode, l.Table, block.Err)
	}
	if len(block.Words) != l.Words {
		return types.TelemetryRecord{}, fmt.Errorf("%w: table %s: expected %d words, got %d",
			types.ErrDecode, l.Table, l.Words, len(block.Words))
	}

	fields := make([]types.FieldValue, len(l.Fields))
	for i, spec := range l.Fields {
		fields[i] = types.FieldValue{
			Name:    spec.Name,
			Raw:     block.Words[spec.Offset],
			Divisor: spec.Divisor,
		}
	}

	return types.TelemetryRecord{
		Table:     l.Table,
		Device:    block.Device,
		Timestamp: at,
		Fields:    fields,
	}, nil
}

// Lookup resolves a table identifier to its layout. Unknown tables are a
// configuration problem, not a decode problem.
func Lookup(table types.TableID) (*Layout, error) {
	l, ok := layouts[table]
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %q (known: %s)", types.ErrConfig, table, knownTables())
	}
	return l, nil
}

// Tables lists all known table identifiers in sorted order.
func Tables() []types.TableID {
	out := make([]types.TableID, 0, len(layouts))
	for t := range layouts {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func knownTables() string {
	names := make([]string, 0, len(layouts))
	for _, t := range Tables() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
