package store

import "strings"

// ddlKeywords are the schema-changing statement types the kill-switch
// rejects. DML (INSERT/UPDATE/DELETE/SELECT) must never match.
var ddlKeywords = []string{"CREATE", "ALTER", "DROP", "GRANT", "REVOKE", "TRUNCATE"}

// isDDL reports whether sql, once leading whitespace and SQL comments are
// stripped, begins with one of the schema-changing keywords. It is a
// prefix match only: "SELECT * FROM created_at_view" must not match.
func isDDL(sql string) bool {
	stmt := stripLeadingCommentsAndSpace(sql)
	upper := strings.ToUpper(stmt)
	for _, kw := range ddlKeywords {
		if strings.HasPrefix(upper, kw) {
			// Require a following word boundary so CREATED_TABLE doesn't
			// false-positive against CREATE.
			if len(upper) == len(kw) || !isIdentChar(upper[len(kw)]) {
				return true
			}
		}
	}
	return false
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// stripLeadingCommentsAndSpace removes any leading run of whitespace,
// "--" line comments, and "/* */" block comments so the DDL detector sees
// the statement's true first keyword.
func stripLeadingCommentsAndSpace(sql string) string {
	s := sql
	for {
		trimmed := strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(trimmed, "--"):
			if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
				s = trimmed[idx+1:]
				continue
			}
			return ""
		case strings.HasPrefix(trimmed, "/*"):
			if idx := strings.Index(trimmed, "*/"); idx >= 0 {
				s = trimmed[idx+2:]
				continue
			}
			return ""
		default:
			return trimmed
		}
	}
}
