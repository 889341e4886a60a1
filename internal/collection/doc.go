// Package collection implements the in-process half of value sampling: a
// bounded multi-producer ring of fixed-size entries, a four-slot watch
// table rewritten under a seqlock, the dense table of traced functions and
// the trampoline body that ties them together on every traced call.
//
// Producers never block. A full ring drops the new entry and counts it, so
// Attempted() == Stored() + Overflow() holds at every quiescent point.
package collection
