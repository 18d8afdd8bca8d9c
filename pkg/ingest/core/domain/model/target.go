package model

import "fmt"

// ReplicationStrategy is the keyspace replication class.
type ReplicationStrategy string

const (
	SimpleStrategy          ReplicationStrategy = "SimpleStrategy"
	NetworkTopologyStrategy ReplicationStrategy = "NetworkTopologyStrategy"
)

// Replication describes keyspace replication. Factor applies to SimpleStrategy,
// Datacenters to NetworkTopologyStrategy.
type Replication struct {
	Strategy    ReplicationStrategy
	Factor      int
	Datacenters map[string]int
}

// Column is an existing table column as reported by the store.
type Column struct {
	Name string
	// Type is the CQL type name, e.g. "text" or "uuid".
	Type string
	// Kind is "partition_key", "clustering" or "regular".
	Kind string
}

// ProvisionedTarget is a namespace and table confirmed to hold Schema.
type ProvisionedTarget struct {
	Namespace string
	Table     string
	Schema    *Schema
}

// QualifiedName returns "namespace.table".
func (t ProvisionedTarget) QualifiedName() string {
	return fmt.Sprintf("%s.%s", t.Namespace, t.Table)
}
