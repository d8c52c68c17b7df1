// Package middleware adapts the coordination primitives to net/http
// handler chains.
package middleware
