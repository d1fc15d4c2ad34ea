package schema

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/lockplane/dbreconcile/database"
)

// SchemaDiff lists object keys ("<kind> <name>") that differ between two
// snapshots. A nil *SchemaDiff means no differences.
type SchemaDiff struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Changed []string `json:"changed,omitempty"`
}

// HasChanges reports whether there is any difference
func (d *SchemaDiff) HasChanges() bool {
	return d != nil && (len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Changed) > 0)
}

// String summarizes the diff in one line
func (d *SchemaDiff) String() string {
	if !d.HasChanges() {
		return "no differences"
	}
	var parts []string
	if len(d.Added) > 0 {
		parts = append(parts, fmt.Sprintf("added: %s", strings.Join(d.Added, ", ")))
	}
	if len(d.Removed) > 0 {
		parts = append(parts, fmt.Sprintf("removed: %s", strings.Join(d.Removed, ", ")))
	}
	if len(d.Changed) > 0 {
		parts = append(parts, fmt.Sprintf("changed: %s", strings.Join(d.Changed, ", ")))
	}
	return strings.Join(parts, "; ")
}

// Key returns the diff key of an object
func Key(kind database.ObjectKind, name string) string {
	return string(kind) + " " + name
}

// Diff compares two snapshots. Added holds keys only in b, removed keys only
// in a, changed keys in both whose descriptors differ. It returns nil when
// the snapshots are structurally equal.
func Diff(a, b *database.Snapshot) *SchemaDiff {
	left, right := objects(a), objects(b)
	diff := &SchemaDiff{}

	for key, desired := range right {
		current, ok := left[key]
		if !ok {
			diff.Added = append(diff.Added, key)
			continue
		}
		if !current.equal(desired) {
			diff.Changed = append(diff.Changed, key)
		}
	}
	for key := range left {
		if _, ok := right[key]; !ok {
			diff.Removed = append(diff.Removed, key)
		}
	}

	if !diff.HasChanges() {
		return nil
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Changed)
	return diff
}

// object is one comparable entry of a snapshot
type object struct {
	table *tableSignature
	text  []string // normalized definition plus any signature fields
}

func (o object) equal(other object) bool {
	if (o.table == nil) != (other.table == nil) {
		return false
	}
	if o.table != nil {
		return o.table.equal(other.table)
	}
	return slices.Equal(o.text, other.text)
}

func objects(s *database.Snapshot) map[string]object {
	out := make(map[string]object)
	if s == nil {
		return out
	}

	for i := range s.Tables {
		out[Key(database.KindTable, s.Tables[i].Name)] = object{table: signatureOf(&s.Tables[i])}
	}
	for _, v := range s.Views {
		out[Key(database.KindView, v.Name)] = object{text: []string{v.Definition}}
	}
	for _, f := range s.Functions {
		// overloads are distinct objects
		name := fmt.Sprintf("%s(%s)", f.Name, f.Arguments)
		out[Key(database.KindFunction, name)] = object{text: []string{f.Arguments, f.Returns, f.Definition}}
	}
	for _, seq := range s.Sequences {
		out[Key(database.KindSequence, seq.Name)] = object{text: []string{seq.DataType, seq.Start, seq.Increment}}
	}
	for _, t := range s.Types {
		out[Key(database.KindType, t.Name)] = object{text: []string{t.Kind, t.Definition}}
	}
	for _, tr := range s.Triggers {
		out[Key(database.KindTrigger, tr.Name)] = object{text: []string{tr.Table, tr.Definition}}
	}
	return out
}

type columnSignature struct {
	name     string
	typ      string
	nullable bool
	pk       bool
}

type foreignKeySignature struct {
	columns           string
	referencedTable   string
	referencedColumns string
	onUpdate          string
	onDelete          string
}

type indexSignature struct {
	name    string
	unique  bool
	columns string
}

// tableSignature holds the ordered lists a table is compared by. Order is
// significant: reordered columns count as a change.
type tableSignature struct {
	columns     []columnSignature
	foreignKeys []foreignKeySignature
	indexes     []indexSignature
}

func signatureOf(t *database.Table) *tableSignature {
	sig := &tableSignature{}
	for _, c := range t.Columns {
		sig.columns = append(sig.columns, columnSignature{
			name:     c.Name,
			typ:      c.Type,
			nullable: c.Nullable,
			pk:       c.IsPrimaryKey,
		})
	}
	for _, fk := range t.ForeignKeys {
		sig.foreignKeys = append(sig.foreignKeys, foreignKeySignature{
			columns:           strings.Join(fk.Columns, ","),
			referencedTable:   fk.ReferencedTable,
			referencedColumns: strings.Join(fk.ReferencedColumns, ","),
			onUpdate:          fk.OnUpdate,
			onDelete:          fk.OnDelete,
		})
	}
	for _, idx := range t.Indexes {
		sig.indexes = append(sig.indexes, indexSignature{
			name:    idx.Name,
			unique:  idx.Unique,
			columns: strings.Join(idx.Columns, ","),
		})
	}
	return sig
}

func (s *tableSignature) equal(other *tableSignature) bool {
	return slices.Equal(s.columns, other.columns) &&
		slices.Equal(s.foreignKeys, other.foreignKeys) &&
		slices.Equal(s.indexes, other.indexes)
}
