// Package events defines the neutrino event record and the forward-only
// Source used to replay recorded event files.
//
// A Source built from an ordered list of paths yields every event of the
// first file, then every event of the second, and so on. Files are opened
// lazily, one at a time, so many independent Sources over the same list can
// coexist without sharing any handle.
//
// Supported formats, chosen by file extension:
//
//	.jsonl      one JSON-encoded Event per line
//	.jsonl.gz   the same, gzip-compressed
//	.pcap       a packet capture whose UDP payloads are JSON-encoded Events
package events
