// Package harness runs a fixed set of selection pipelines over a list of
// event files, split across a fixed pool of workers.
//
// The input file list is cut into contiguous slices, one per worker. Each
// worker owns NSelections pipeline instances (slots), each bound to its own
// output destination, and drives them through four phases in order:
// Initialize, Setup, Analyze and Finalize. Within a worker every slot sees
// event k before any slot sees event k+1. Workers share nothing but the
// diagnostic log.
package harness
