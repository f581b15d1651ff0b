// Package fields extracts normalized issue fields from raw provider payloads
// with JMESPath expressions. Each adapter ships defaults; a config may
// override them per board.
package fields

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jmespath/go-jmespath"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
)

// Field names accepted in board field overrides
const (
	Title       = "title"
	Description = "description"
	Status      = "status"
	Labels      = "labels"
	Link        = "link"
)

var known = map[string]bool{Title: true, Description: true, Status: true, Labels: true, Link: true}

// Spec maps a field name to the expression extracting it.
type Spec map[string]string

// Merge returns defaults with non-empty overrides applied.
func Merge(defaults Spec, overrides map[string]string) Spec {
	merged := make(Spec, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		if v != "" {
			merged[k] = v
		}
	}
	return merged
}

// Extractor evaluates and caches compiled expressions
type Extractor struct {
	cache map[string]*jmespath.JMESPath
	mu    sync.RWMutex
}

func NewExtractor() *Extractor {
	return &Extractor{
		cache: make(map[string]*jmespath.JMESPath),
	}
}

// Validate rejects unknown field names and expressions that do not compile.
func (e *Extractor) Validate(overrides map[string]string) error {
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !known[name] {
			return ferrors.Newf(ferrors.InvalidConfig, "unknown board field %q", name).WithField("board_fields." + name)
		}
		if _, err := e.getOrCompile(overrides[name]); err != nil {
			return ferrors.Wrap(ferrors.InvalidConfig, err, "invalid expression").WithField("board_fields." + name)
		}
	}
	return nil
}

// Evaluate evaluates a JMESPath expression against data
func (e *Extractor) Evaluate(expression string, data any) (any, error) {
	compiled, err := e.getOrCompile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}

	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}

	return result, nil
}

// String evaluates an expression to a string. Missing values yield "".
func (e *Extractor) String(expression string, data any) (string, error) {
	if expression == "" {
		return "", nil
	}
	result, err := e.Evaluate(expression, data)
	if err != nil || result == nil {
		return "", err
	}

	switch v := result.(type) {
	case string:
		return v, nil
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// Strings evaluates an expression to a list of strings, wrapping a single
// value and skipping empty entries.
func (e *Extractor) Strings(expression string, data any) ([]string, error) {
	if expression == "" {
		return nil, nil
	}
	result, err := e.Evaluate(expression, data)
	if err != nil || result == nil {
		return nil, err
	}

	items, ok := result.([]any)
	if !ok {
		items = []any{result}
	}

	values := make([]string, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		s := fmt.Sprintf("%v", item)
		if s != "" {
			values = append(values, s)
		}
	}
	return values, nil
}

func (e *Extractor) getOrCompile(expression string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	if compiled, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return compiled, nil
	}
	e.mu.RUnlock()

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = compiled
	e.mu.Unlock()

	return compiled, nil
}
