package types

import "time"

// TableID names a destination table and selects its register layout.
type TableID string

// RegisterBlock is the raw result of one block read. Err is set when the
// device answered with a protocol exception; Words is empty in that case.
type RegisterBlock struct {
	Device string
	Spec   BlockSpec
	Words  []uint16
	Err    error
}

// Failed reports whether the block carries an exception reply.
func (b RegisterBlock) Failed() bool {
	return b.Err != nil
}

// FieldValue keeps the raw word next to its divisor so the stored value can
// be derived without losing the original reading.
type FieldValue struct {
	Name    string
	Raw     uint16
	Divisor uint16
}

// Value returns the column value: int64 for unscaled fields, float64 otherwise.
func (f FieldValue) Value() any {
	if f.Divisor <= 1 {
		return int64(f.Raw)
	}
	return float64(f.Raw) / float64(f.Divisor)
}

// Float returns the scaled value as float64 regardless of divisor.
func (f FieldValue) Float() float64 {
	if f.Divisor <= 1 {
		return float64(f.Raw)
	}
	return float64(f.Raw) / float64(f.Divisor)
}

// TelemetryRecord is one row for one table. Built once, inserted once.
type TelemetryRecord struct {
	Table     TableID
	Device    string
	Timestamp time.Time
	Fields    []FieldValue
}

// Args returns the insert arguments in column order, timestamp first.
func (r TelemetryRecord) Args() []any {
	args := make([]any, 0, len(r.Fields)+1)
	args = append(args, r.Timestamp)
	for _, f := range r.Fields {
		args = append(args, f.Value())
	}
	return args
}

// Values maps field names to scaled values, used by the live feed and mirrors.
func (r TelemetryRecord) Values() map[string]any {
	out := make(map[string]any, len(r.Fields))
	for _, f := range r.Fields {
		out[f.Name] = f.Value()
	}
	return out
}
