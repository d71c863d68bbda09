// Package repository provides the built-in settings.Repository drivers and
// the Factory that resolves named repositories from configuration.
//
// Drivers:
//
//	memory    in-process map, useful for tests and single-process tools
//	database  database/sql table (sqlite via modernc.org/sqlite, postgres via pgx)
//	bbolt     single-file go.etcd.io/bbolt bucket
//
// Custom drivers are registered with Factory.Extend.
package repository
