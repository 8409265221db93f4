// Package store holds uploaded datasets and analysis sessions in memory.
// Datasets are immutable once added and may be shared by any number of
// sessions. Each session owns a private copy of its parameters and is
// evicted after the configured idle TTL.
package store
