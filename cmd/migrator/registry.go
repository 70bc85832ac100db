package main

import (
	"github.com/saadactin/migrator/pkg/registry"
	"github.com/saadactin/migrator/pkg/sink/olap"
	relsink "github.com/saadactin/migrator/pkg/sink/relational"
	"github.com/saadactin/migrator/pkg/source/crmsaas"
	relsrc "github.com/saadactin/migrator/pkg/source/relational"
	"github.com/saadactin/migrator/pkg/source/workitemsaas"
)

// buildRegistry registers every adapter kind SPEC_FULL §6 names and
// freezes the registry. Called once at startup, before the control plane
// begins serving requests (§5: read-only-after-start discipline).
func buildRegistry() *registry.Registry {
	reg := registry.New()

	reg.RegisterSource("postgresql", relsrc.NewPostgresAdapter)
	reg.RegisterSource("mysql", relsrc.NewMySQLAdapter)
	reg.RegisterSource("mssql", relsrc.NewMSSQLAdapter)
	reg.RegisterSource("zoho", crmsaas.NewCRMAdapter)
	reg.RegisterSource("devops", workitemsaas.NewWorkItemAdapter)

	reg.RegisterSink("postgresql", relsink.NewPostgresSink)
	reg.RegisterSink("mysql", relsink.NewMySQLSink)
	reg.RegisterSink("mssql", relsink.NewMSSQLSink)
	reg.RegisterSink("clickhouse", olap.NewClickHouseAdapter)

	reg.Freeze()
	return reg
}
