// Package ingest turns a delimited text table into a types.Table.
//
// DetectSchema(columns) is the schema adapter: it rejects tables missing a
// required column, and computes the capability flags (status column present,
// extended account-lifetime group present) that gate later stages. The
// extended group is all-or-nothing; a partial group is logged and ignored.
//
// ParseTimestamp accepts the mixed textual formats found in exported order
// data (date only, date-time with "T" or space, fractional seconds, offsets
// written as Z, +07:00, +0700 or +07, a trailing " UTC") and normalises to
// UTC. Values without an offset are taken as UTC.
//
// Read(r, opts) parses a whole table. Ingestion is all-or-nothing: the first
// bad cell aborts the read with an *Error naming the row, column and value.
package ingest
