package diagnostic

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ScanDestructive flags statements in a PostgreSQL script that irreversibly
// delete data. Scripts that fail to parse yield no findings.
func ScanDestructive(source, content string) *Collector {
	c := NewCollector(source, content)

	tree, err := pg_query.Parse(strings.ReplaceAll(content, "{{SCHEMA}}", placeholderStandIn))
	if err != nil {
		return c
	}

	for _, raw := range tree.Stmts {
		if raw.Stmt == nil {
			continue
		}
		offset := skipLeading(content, int(raw.StmtLocation))
		for _, finding := range dataLossFindings(raw.Stmt) {
			c.AddWarningAtOffset(offset, 1, finding.code, finding.message)
		}
	}
	return c
}

type finding struct {
	code    string
	message string
}

func dataLossFindings(stmt *pg_query.Node) []finding {
	var findings []finding

	switch node := stmt.Node.(type) {
	case *pg_query.Node_DropStmt:
		if node.DropStmt.RemoveType != pg_query.ObjectType_OBJECT_TABLE {
			break
		}
		cascade := ""
		if node.DropStmt.Behavior == pg_query.DropBehavior_DROP_CASCADE {
			cascade = " CASCADE"
		}
		for _, obj := range node.DropStmt.Objects {
			findings = append(findings, finding{
				code:    "dangerous_drop_table",
				message: fmt.Sprintf("DROP TABLE %s%s permanently deletes all rows", objectName(obj), cascade),
			})
		}

	case *pg_query.Node_TruncateStmt:
		var names []string
		for _, rel := range node.TruncateStmt.Relations {
			if rv, ok := rel.Node.(*pg_query.Node_RangeVar); ok {
				names = append(names, rangeVarName(rv.RangeVar))
			}
		}
		findings = append(findings, finding{
			code:    "dangerous_truncate",
			message: fmt.Sprintf("TRUNCATE %s removes all rows", strings.Join(names, ", ")),
		})

	case *pg_query.Node_DeleteStmt:
		if node.DeleteStmt.WhereClause == nil {
			findings = append(findings, finding{
				code:    "dangerous_delete_all",
				message: fmt.Sprintf("DELETE FROM %s without WHERE removes all rows", rangeVarName(node.DeleteStmt.Relation)),
			})
		}

	case *pg_query.Node_AlterTableStmt:
		table := rangeVarName(node.AlterTableStmt.Relation)
		for _, cmd := range node.AlterTableStmt.Cmds {
			alter, ok := cmd.Node.(*pg_query.Node_AlterTableCmd)
			if !ok || alter.AlterTableCmd.Subtype != pg_query.AlterTableType_AT_DropColumn {
				continue
			}
			findings = append(findings, finding{
				code:    "dangerous_drop_column",
				message: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s permanently deletes the column's data", table, alter.AlterTableCmd.Name),
			})
		}
	}

	return findings
}

// objectName joins a qualified name list such as schema.table
func objectName(obj *pg_query.Node) string {
	list, ok := obj.Node.(*pg_query.Node_List)
	if !ok {
		return "unknown"
	}
	var parts []string
	for _, item := range list.List.Items {
		if s, ok := item.Node.(*pg_query.Node_String_); ok && s.String_.Sval != standInName {
			parts = append(parts, s.String_.Sval)
		}
	}
	return strings.Join(parts, ".")
}

func rangeVarName(rv *pg_query.RangeVar) string {
	if rv == nil {
		return "unknown"
	}
	if rv.Schemaname != "" && rv.Schemaname != standInName {
		return rv.Schemaname + "." + rv.Relname
	}
	return rv.Relname
}

// skipLeading advances past whitespace and line comments. StmtLocation
// points just past the previous semicolon.
func skipLeading(content string, offset int) int {
	for offset < len(content) {
		switch {
		case isSpace(content[offset]):
			offset++
		case strings.HasPrefix(content[offset:], "--"):
			end := strings.IndexByte(content[offset:], '\n')
			if end < 0 {
				return len(content)
			}
			offset += end + 1
		default:
			return offset
		}
	}
	return offset
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
