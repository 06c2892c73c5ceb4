// Package middleware provides the HTTP middleware wrapped around the
// gateway handler: request ids, access logging and panic recovery.
package middleware
