// Package provision makes sure the destination keyspace and table exist
// before the pipeline starts writing.
package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/config"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

const moduleName = "provision"

// Column kinds reported by the store.
const (
	KindPartitionKey = "partition_key"
	KindClustering   = "clustering"
	KindRegular      = "regular"
)

// Provisioner creates the destination keyspace and table when they are
// missing and verifies them when they exist. It never drops or alters
// existing objects.
type Provisioner struct {
	store       port.Store
	keyspace    string
	table       string
	replication model.Replication
}

// NewProvisioner creates a Provisioner for the configured keyspace and table.
func NewProvisioner(store port.Store, cfg *config.StreamConfig) *Provisioner {
	return &Provisioner{
		store:       store,
		keyspace:    cfg.Store.Keyspace,
		table:       cfg.Store.Table,
		replication: cfg.Store.ReplicationSpec(),
	}
}

// EnsureTarget returns the target holding schema, creating what is missing.
// An existing table that cannot hold schema fails with IncompatibleExistingTarget.
func (p *Provisioner) EnsureTarget(ctx context.Context, schema *model.Schema) (model.ProvisionedTarget, error) {
	target := model.ProvisionedTarget{Namespace: p.keyspace, Table: p.table, Schema: schema}

	exists, err := p.store.KeyspaceExists(ctx, p.keyspace)
	if err != nil {
		return target, wrapStoreError("failed to look up keyspace "+p.keyspace, err)
	}
	if !exists {
		logger.Infof("Creating keyspace %s (%s).", p.keyspace, p.replication.Strategy)
		if err := p.store.CreateKeyspace(ctx, p.keyspace, p.replication); err != nil {
			return target, wrapStoreError("failed to create keyspace "+p.keyspace, err)
		}
	}

	columns, err := p.store.DescribeTable(ctx, p.keyspace, p.table)
	if err != nil {
		return target, wrapStoreError("failed to describe table "+target.QualifiedName(), err)
	}
	if len(columns) == 0 {
		logger.Infof("Creating table %s.", target.QualifiedName())
		if err := p.store.CreateTable(ctx, target); err != nil {
			return target, wrapStoreError("failed to create table "+target.QualifiedName(), err)
		}
		return target, nil
	}

	if err := CheckCompatible(schema, columns); err != nil {
		return target, exception.NewIncompatibleTarget(moduleName,
			fmt.Sprintf("table %s exists with an incompatible layout", target.QualifiedName()), err)
	}
	logger.Debugf("Table %s already exists with a compatible layout.", target.QualifiedName())
	return target, nil
}

// CheckCompatible reports why columns cannot hold schema, or nil. Every schema
// field must exist with the same type and the primary key must be the only
// partition key. Extra columns are allowed.
func CheckCompatible(schema *model.Schema, columns []model.Column) error {
	byName := make(map[string]model.Column, len(columns))
	var partitionKeys []string
	for _, c := range columns {
		byName[c.Name] = c
		if c.Kind == KindPartitionKey {
			partitionKeys = append(partitionKeys, c.Name)
		}
	}

	var problems []string
	for _, f := range schema.Fields {
		c, ok := byName[f.Name]
		if !ok {
			problems = append(problems, fmt.Sprintf("column %s is missing", f.Name))
			continue
		}
		existing, err := model.ParseFieldType(c.Type)
		if err != nil || existing != f.Type {
			problems = append(problems, fmt.Sprintf("column %s is %s, want %s", f.Name, c.Type, f.Type))
		}
	}
	if len(partitionKeys) != 1 || partitionKeys[0] != schema.PrimaryKey {
		problems = append(problems, fmt.Sprintf("partition key is (%s), want (%s)", strings.Join(partitionKeys, ", "), schema.PrimaryKey))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// wrapStoreError keeps errors already classified by the store adapter and
// treats anything else as a connection problem.
func wrapStoreError(msg string, err error) error {
	if _, ok := exception.AsPipelineError(err); ok {
		return err
	}
	return exception.NewConnectionError(moduleName, msg, err)
}
