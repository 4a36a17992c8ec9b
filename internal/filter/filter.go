// Package filter selects fragments with CEL expressions.
//
// Expressions see these variables:
//
//	stream_id  int     frame stream id
//	size       int     payload length
//	failed     bool    frame FAILED flag
//	text       string  payload as text
//	json       dyn     payload parsed as JSON (null when it is not JSON)
//	now_ms     int     wall clock in milliseconds
//
// An empty expression matches everything.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/flo-dispatcher/internal/dispatcher"
)

// Filter is a compiled expression. It is safe for concurrent use.
type Filter struct {
	expr     string
	prog     cel.Program
	usesJSON bool
}

// Compile parses and type-checks expr. The expression must yield a bool.
func Compile(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("stream_id", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("failed", cel.BoolType),
		cel.Variable("text", cel.StringType),
		cel.Variable("json", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("filter: parse %q: %w", expr, iss.Err())
	}
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("filter: check %q: %w", expr, iss.Err())
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter: %q yields %v, want bool", expr, checked.OutputType())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	return &Filter{expr: expr, prog: prog, usesJSON: strings.Contains(expr, "json")}, nil
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Match evaluates the expression for one fragment. Evaluation errors, such
// as a missing JSON field, count as no match.
func (f *Filter) Match(payload []byte, streamID int32, failed bool) bool {
	if f == nil || f.prog == nil {
		return true
	}
	var doc any
	if f.usesJSON {
		_ = json.Unmarshal(payload, &doc)
	}
	out, _, err := f.prog.Eval(map[string]any{
		"stream_id": int64(streamID),
		"size":      int64(len(payload)),
		"failed":    failed,
		"text":      string(payload),
		"json":      doc,
		"now_ms":    time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Handler delivers matching fragments to next and consumes the rest.
type Handler struct {
	filter  *Filter
	next    dispatcher.FragmentHandler
	skipped atomic.Int64
}

// Wrap decorates next with f.
func Wrap(f *Filter, next dispatcher.FragmentHandler) *Handler {
	return &Handler{filter: f, next: next}
}

// OnFragment implements dispatcher.FragmentHandler.
func (h *Handler) OnFragment(payload []byte, streamID int32, failed bool) dispatcher.FragmentResult {
	if !h.filter.Match(payload, streamID, failed) {
		h.skipped.Add(1)
		return dispatcher.Consume
	}
	return h.next.OnFragment(payload, streamID, failed)
}

// Skipped is the number of fragments the filter consumed without
// delivering them.
func (h *Handler) Skipped() int64 { return h.skipped.Load() }
