package cassandra

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
)

const (
	selectKeyspaceCQL = `SELECT keyspace_name FROM system_schema.keyspaces WHERE keyspace_name = ?`
	selectColumnsCQL  = `SELECT column_name, type, kind FROM system_schema.columns WHERE keyspace_name = ? AND table_name = ?`
)

// quoteIdent quotes a CQL identifier, preserving its case.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func qualifiedName(keyspace, table string) string {
	return quoteIdent(keyspace) + "." + quoteIdent(table)
}

// createKeyspaceCQL renders CREATE KEYSPACE IF NOT EXISTS for r.
func createKeyspaceCQL(keyspace string, r model.Replication) (string, error) {
	var opts []string
	switch r.Strategy {
	case model.SimpleStrategy, "":
		factor := r.Factor
		if factor < 1 {
			factor = 1
		}
		opts = append(opts, "'class': 'SimpleStrategy'", fmt.Sprintf("'replication_factor': '%d'", factor))
	case model.NetworkTopologyStrategy:
		if len(r.Datacenters) == 0 {
			return "", fmt.Errorf("NetworkTopologyStrategy requires at least one datacenter")
		}
		opts = append(opts, "'class': 'NetworkTopologyStrategy'")
		dcs := make([]string, 0, len(r.Datacenters))
		for dc := range r.Datacenters {
			dcs = append(dcs, dc)
		}
		sort.Strings(dcs)
		for _, dc := range dcs {
			opts = append(opts, fmt.Sprintf("'%s': '%d'", strings.ReplaceAll(dc, "'", "''"), r.Datacenters[dc]))
		}
	default:
		return "", fmt.Errorf("unsupported replication strategy '%s'", r.Strategy)
	}
	return fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {%s}", quoteIdent(keyspace), strings.Join(opts, ", ")), nil
}

// createTableCQL renders CREATE TABLE IF NOT EXISTS with the schema's primary
// key as the single partition key.
func createTableCQL(target model.ProvisionedTarget) string {
	cols := make([]string, len(target.Schema.Fields))
	for i, f := range target.Schema.Fields {
		col := quoteIdent(f.Name) + " " + string(f.Type)
		if f.Name == target.Schema.PrimaryKey {
			col += " PRIMARY KEY"
		}
		cols[i] = col
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", qualifiedName(target.Namespace, target.Table), strings.Join(cols, ", "))
}

// insertCQL renders the parameterized upsert of one row.
func insertCQL(target model.ProvisionedTarget) string {
	names := target.Schema.ColumnNames()
	cols := make([]string, len(names))
	marks := make([]string, len(names))
	for i, n := range names {
		cols[i] = quoteIdent(n)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualifiedName(target.Namespace, target.Table), strings.Join(cols, ", "), strings.Join(marks, ", "))
}
