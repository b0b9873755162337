// Package querysql compiles queryir queries into parameterized SQL over the
// append-only row table.
//
// Every read resolves each key to its current version with a window
// function before anything else:
//
//	ROW_NUMBER() OVER (PARTITION BY ns, tenant, type, id ORDER BY v DESC, seq DESC)
//
// The inner query restricts only the partition (namespace, tenant, type and
// optional ids). Tombstone exclusion, the caller's filter, sorting and paging
// are applied by the outer query to rows with rn = 1. Applying a filter in
// the inner query would let an older matching version stand in for a newer
// non-matching one.
//
// Literals are never interpolated into query text. Identifiers (the table
// name, payload path segments) are validated by queryir and row before they
// reach the compiler.
package querysql
