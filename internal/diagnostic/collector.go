package diagnostic

import (
	"sort"
)

// Collector collects diagnostics for one script
type Collector struct {
	diagnostics []Diagnostic
	source      string // script name
	content     string // script content for position calculations
}

// NewCollector creates a new diagnostic collector
func NewCollector(source, content string) *Collector {
	return &Collector{
		diagnostics: []Diagnostic{},
		source:      source,
		content:     content,
	}
}

// Add adds a diagnostic to the collection
func (c *Collector) Add(diag Diagnostic) {
	c.diagnostics = append(c.diagnostics, diag)
}

// AddErrorAtOffset adds an error at a byte offset
func (c *Collector) AddErrorAtOffset(offset, length int, code, message string) {
	c.Add(NewDiagnostic(RangeFromOffsets(c.content, offset, offset+length), SeverityError, code, message))
}

// AddWarningAtOffset adds a warning at a byte offset
func (c *Collector) AddWarningAtOffset(offset, length int, code, message string) {
	c.Add(NewDiagnostic(RangeFromOffsets(c.content, offset, offset+length), SeverityWarning, code, message))
}

// All returns all collected diagnostics, sorted by location
func (c *Collector) All() []Diagnostic {
	sort.SliceStable(c.diagnostics, func(i, j int) bool {
		if c.diagnostics[i].Range.Start.Line != c.diagnostics[j].Range.Start.Line {
			return c.diagnostics[i].Range.Start.Line < c.diagnostics[j].Range.Start.Line
		}
		return c.diagnostics[i].Range.Start.Character < c.diagnostics[j].Range.Start.Character
	})
	return c.diagnostics
}

// Errors returns only error-level diagnostics
func (c *Collector) Errors() []Diagnostic {
	var errors []Diagnostic
	for _, d := range c.All() {
		if d.Severity == SeverityError {
			errors = append(errors, d)
		}
	}
	return errors
}

// Warnings returns only warning-level diagnostics
func (c *Collector) Warnings() []Diagnostic {
	var warnings []Diagnostic
	for _, d := range c.All() {
		if d.Severity == SeverityWarning {
			warnings = append(warnings, d)
		}
	}
	return warnings
}

// HasErrors returns true if there are any errors
func (c *Collector) HasErrors() bool {
	for _, d := range c.diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Count returns the total number of diagnostics
func (c *Collector) Count() int {
	return len(c.diagnostics)
}

// Content returns the script content
func (c *Collector) Content() string {
	return c.content
}

// Source returns the script name
func (c *Collector) Source() string {
	return c.source
}
