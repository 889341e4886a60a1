// Package breakpoint installs breakpoints and logpoints at resolved code
// addresses and runs the per-thread pause protocol.
//
// A breakpoint that fires records a PauseInfo and blocks the thread that
// hit it, and only that thread, until Continue is called for its thread id.
// Stepping is built from thread-filtered one-shot breakpoints: the first
// member of a step group to fire detaches the others.
package breakpoint
