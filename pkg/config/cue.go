package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// ValidationError is a CUE error with its source position.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		fmt.Fprintf(&b, "%s:%d:%d: ", e.File, e.Line, e.Column)
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors collects the errors of one evaluation.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		lines = append(lines, e.String())
	}
	return strings.Join(lines, "\n")
}

// CUELoader evaluates CUE configuration files.
type CUELoader struct {
	ctx *cue.Context
}

// NewCUELoader creates a new CUE loader.
func NewCUELoader() *CUELoader {
	return &CUELoader{ctx: cuecontext.New()}
}

// Compile evaluates CUE source. filename is only used in error positions.
func (l *CUELoader) Compile(src []byte, filename string) (cue.Value, error) {
	val := l.ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// Export evaluates CUE source and returns the concrete value as JSON.
func (l *CUELoader) Export(src []byte, filename string) ([]byte, error) {
	val, err := l.Compile(src, filename)
	if err != nil {
		return nil, err
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	data, err := val.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", filename, err)
	}
	return data, nil
}

func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		var ve ValidationError
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		ve.Path = strings.Join(e.Path(), ".")
		format, args := e.Msg()
		ve.Message = fmt.Sprintf(format, args...)
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}
