// Package models maps the engine's tables for GORM. Domain types carry no
// ORM tags; each model converts to and from its domain type with
// ToDomain/FromDomain, and repositories only ever hand out domain values.
//
// Timestamps are written and read back in UTC.
package models
