package store

import "testing"

func TestIsDDL(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want bool
	}{
		{"create table", "CREATE TABLE t (id int)", true},
		{"alter table", "ALTER TABLE t ADD COLUMN x int", true},
		{"drop table", "DROP TABLE t", true},
		{"grant", "GRANT SELECT ON t TO role", true},
		{"revoke", "REVOKE SELECT ON t FROM role", true},
		{"truncate", "TRUNCATE t", true},
		{"lowercase create", "create table t (id int)", true},
		{"leading whitespace", "   \n\tCREATE TABLE t (id int)", true},
		{"leading line comment", "-- comment\nCREATE TABLE t (id int)", true},
		{"leading block comment", "/* comment */ CREATE TABLE t (id int)", true},
		{"select", "SELECT * FROM t", false},
		{"insert", "INSERT INTO t VALUES (1)", false},
		{"update", "UPDATE t SET x = 1", false},
		{"delete", "DELETE FROM t WHERE id = 1", false},
		{"identifier prefix collision", "SELECT * FROM created_at_view", false},
		{"table named drop_zone", "SELECT * FROM drop_zone_events", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDDL(tt.sql); got != tt.want {
				t.Errorf("isDDL(%q) = %v, want %v", tt.sql, got, tt.want)
			}
		})
	}
}
