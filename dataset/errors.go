package dataset

import "fmt"

// ValidationError describes input that cannot be used to build a model: a
// missing file, a missing column, or a value outside its physically meaningful
// range. Validation is fail-fast; no model is ever partially built from
// invalid input.
type ValidationError struct {
	File   string // input file the problem was found in, if any
	Column string // column name, if the problem is column-specific
	Row    int    // zero-based data row, or -1 when not row-specific
	Msg    string
}

func (e *ValidationError) Error() string {
	switch {
	case e.File != "" && e.Column != "" && e.Row >= 0:
		return fmt.Sprintf("invalid input %s: column %q row %d: %s", e.File, e.Column, e.Row, e.Msg)
	case e.File != "" && e.Column != "":
		return fmt.Sprintf("invalid input %s: column %q: %s", e.File, e.Column, e.Msg)
	case e.File != "":
		return fmt.Sprintf("invalid input %s: %s", e.File, e.Msg)
	default:
		return fmt.Sprintf("invalid input: %s", e.Msg)
	}
}

func errf(file, column string, row int, format string, args ...interface{}) *ValidationError {
	return &ValidationError{File: file, Column: column, Row: row, Msg: fmt.Sprintf(format, args...)}
}
