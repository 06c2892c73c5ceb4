// Package router holds the compiled route table and matches inbound
// requests against it.
//
// A Table is an immutable snapshot compiled from configuration. Store
// publishes tables with a single atomic pointer swap, so a request that
// loaded a table keeps using it until it completes even if a newer one
// is published meanwhile.
//
// Upstream templates are split on "/". A "{name}" segment matches any
// single non-empty segment and binds name; every other segment must
// match literally and case-sensitively. When several routes match, the
// one with the most literal segments wins, and among equally specific
// routes the one listed first in configuration wins:
//
//	/a/b    beats /a/{x}   for /a/b
//	/a/{x}  matches        /a/c
//
// Downstream templates are rendered with the captured values, decoded
// from the request path and re-escaped for the downstream segment.
package router
