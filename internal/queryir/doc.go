// Package queryir is the abstract query representation consumed by the row
// store's SQL compiler.
//
// A Select names the partition it reads (namespace, tenant, entity type and
// optionally a set of ids) and carries a Filter over row metadata and the
// opaque data payload. The compiler resolves every key to its current
// version first and only then applies the Filter, so a stale version that
// happens to match can never be returned in place of the current one.
//
// Predicate is a sealed interface using the marker method pattern; backends
// switch exhaustively over the types defined here.
//
// Fields are either metadata names (id, v, title, tenant, createdAt,
// createdBy, updatedAt, updatedBy, deletedAt, deletedBy) or payload paths
// of the form "data.a.b", where every segment is an identifier. Literal
// values are always bound as query parameters by the compiler.
package queryir
