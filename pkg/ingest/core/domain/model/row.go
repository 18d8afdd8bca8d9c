package model

// Row is a decoded record. Values are aligned with Schema.Fields and hold
// Go values matching each FieldType: string, int32, int64, float64, bool,
// uuid.UUID and time.Time. A nil value is a null.
type Row struct {
	Key    interface{}
	Values []interface{}
	Source RawRecord
}

// Rejection is a record that did not decode into a Row.
type Rejection struct {
	Record RawRecord
	Reason error
}

// RowFailure is a row the store refused permanently.
type RowFailure struct {
	Row    *Row
	Reason error
}
