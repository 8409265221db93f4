// Package export renders analysis tables as delimited text and reads them
// back.
//
// Every table is a header plus string rows, so export preserves the
// computed row count and column set exactly. Timestamps are rendered as
// "2006-01-02 15:04:05 UTC", percentages and averages with two decimals,
// and undefined values (first-month growth, for example) as empty cells.
//
// The derived-record export keeps the input column names, so it can be
// ingested again with ingest.Read.
package export
