// Package compute derives per-record metrics and applies the interactive
// filter predicates.
//
// derive.go provides the pure Derive/DeriveAll functions. The evaluation
// instant is always passed in explicitly so results are deterministic; use
// time.Now().UTC() in production.
//
// Day arithmetic: DaysBetween(from, to) is the floor of the elapsed duration
// divided by 24h. 23h59m is 0 days, -1m is -1 day. Every derived day count in
// the module uses this one rule.
//
// filter.go provides Filter, the conjunction of a vertical set, an inclusive
// days_stuck range and (when the status column exists) a status set. An
// empty set selects nothing; DefaultPredicate builds the "all observed
// values" predicate callers should start from.
package compute
