// Package catalog loads the fleet troubleshooting guide from CSV and serves
// problem records to guided troubleshooting and the vector index.
package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// MaxSteps is the number of solution step columns in the guide.
const MaxSteps = 3

// Record is one troubleshooting entry: a problem name, an optional possible
// cause, and up to MaxSteps ordered solution steps. Empty steps are gaps and
// are skipped when walking the sequence.
type Record struct {
	Problem       string
	PossibleCause string
	steps         [MaxSteps]string
}

// NewRecord builds a Record from a problem name, cause, and ordered steps.
// Steps beyond MaxSteps are dropped.
func NewRecord(problem, cause string, steps ...string) Record {
	r := Record{
		Problem:       strings.TrimSpace(problem),
		PossibleCause: strings.TrimSpace(cause),
	}
	for i, s := range steps {
		if i >= MaxSteps {
			break
		}
		r.steps[i] = strings.TrimSpace(s)
	}
	return r
}

// Step returns the text of step n (1-based), or "" when n is out of range
// or the step is a gap.
func (r Record) Step(n int) string {
	if n < 1 || n > MaxSteps {
		return ""
	}
	return r.steps[n-1]
}

// NextStep returns the first non-empty step after the given 1-based step
// number. Pass 0 for the first step. ok is false when no steps remain.
func (r Record) NextStep(after int) (n int, text string, ok bool) {
	for i := after + 1; i <= MaxSteps; i++ {
		if s := r.Step(i); s != "" {
			return i, s, true
		}
	}
	return 0, "", false
}

// HasSteps reports whether the record has at least one non-empty step.
func (r Record) HasSteps() bool {
	_, _, ok := r.NextStep(0)
	return ok
}

// StepCount returns the number of non-empty steps.
func (r Record) StepCount() int {
	count := 0
	for _, s := range r.steps {
		if s != "" {
			count++
		}
	}
	return count
}

// Document renders the record as the text that gets embedded into the
// knowledge base, one labeled line per non-empty field.
func (r Record) Document() string {
	parts := []string{"Problem: " + r.Problem}
	if r.PossibleCause != "" {
		parts = append(parts, "Possible Cause: "+r.PossibleCause)
	}
	for i := 1; i <= MaxSteps; i++ {
		if s := r.Step(i); s != "" {
			parts = append(parts, fmt.Sprintf("Solution Step %d: %s", i, s))
		}
	}
	return strings.Join(parts, "\n")
}

// Catalog holds the loaded guide. Iteration order follows the CSV so that
// problem detection stays deterministic across runs.
type Catalog struct {
	names []string
	byKey map[string]Record
}

// New builds a Catalog from records. Records without a problem name are
// dropped; a repeated problem name replaces the earlier record.
func New(records []Record) *Catalog {
	c := &Catalog{byKey: make(map[string]Record, len(records))}
	for _, r := range records {
		if r.Problem == "" {
			continue
		}
		c.add(r)
	}
	return c
}

func (c *Catalog) add(r Record) {
	key := strings.ToLower(r.Problem)
	if _, exists := c.byKey[key]; !exists {
		c.names = append(c.names, r.Problem)
	}
	c.byKey[key] = r
}

// Len returns the number of problems in the catalog.
func (c *Catalog) Len() int {
	return len(c.names)
}

// Get looks up a record by problem name, case-insensitively.
func (c *Catalog) Get(name string) (Record, bool) {
	r, ok := c.byKey[strings.ToLower(strings.TrimSpace(name))]
	return r, ok
}

// Names returns all problem names in CSV order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Records returns all records in CSV order.
func (c *Catalog) Records() []Record {
	out := make([]Record, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.byKey[strings.ToLower(name)])
	}
	return out
}

// NextStep looks up a problem and returns its first non-empty step after
// the given 1-based step number, along with the possible cause. Pass 0 for
// the first step. ok is false when the problem is unknown or no steps
// remain; an exhausted scan still reports the cause.
func (c *Catalog) NextStep(problem string, afterStep int) (n int, text, cause string, ok bool) {
	rec, found := c.Get(problem)
	if !found {
		slog.Warn("next step requested for unknown problem", "problem", problem)
		return 0, "", "", false
	}
	n, text, ok = rec.NextStep(afterStep)
	return n, text, rec.PossibleCause, ok
}

// Load reads the guide CSV at path and returns the catalog plus the number
// of skipped rows. The header must contain "problem" and "solution_step_1"
// columns; "possible_cause" and further step columns are optional. Rows
// without a problem name or without any solution step are skipped with a
// warning, mirroring how the guide treats incomplete entries.
func Load(path string) (*Catalog, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	return parse(f)
}

func parse(f io.Reader) (*Catalog, int, error) {
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("reading catalog header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"problem", "solution_step_1"} {
		if _, ok := col[required]; !ok {
			return nil, 0, fmt.Errorf("catalog is missing required column %q", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	cat := &Catalog{byKey: make(map[string]Record)}
	skipped := 0
	for rowNum := 2; ; rowNum++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Warn("skipping malformed catalog row", "row", rowNum, "error", err)
			skipped++
			continue
		}

		problem := field(row, "problem")
		if problem == "" {
			slog.Warn("skipping catalog row without a problem name", "row", rowNum)
			skipped++
			continue
		}

		rec := Record{
			Problem:       problem,
			PossibleCause: field(row, "possible_cause"),
		}
		hasStep := false
		for i := 1; i <= MaxSteps; i++ {
			s := field(row, fmt.Sprintf("solution_step_%d", i))
			rec.steps[i-1] = s
			if s != "" {
				hasStep = true
			}
		}
		if !hasStep {
			slog.Warn("problem has no solution steps, excluding from guided mode", "problem", problem, "row", rowNum)
			skipped++
			continue
		}

		cat.add(rec)
	}

	return cat, skipped, nil
}
