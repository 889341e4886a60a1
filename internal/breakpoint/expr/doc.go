// Package expr compiles breakpoint conditions and logpoint message
// templates into small tree-walking programs evaluated against the
// registers and memory of a thread that hit a probe.
package expr
