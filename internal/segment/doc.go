// Package segment resolves declarative audience filters into recipient lists.
//
// A Segment's filter is a closed set of typed predicates (see predicate.go)
// evaluated against Candidates loaded from a Store. The Resolver applies the
// contact-level exclusions, deduplicates by contact, subtracts the optional
// exclusion segment and caps the result size. It never consults the
// suppression list; that happens in the suppression package just before
// enqueue.
package segment
