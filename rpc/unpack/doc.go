// Package unpack implements a pull-based, resumable MessagePack decoder.
//
// The Unpacker reads one item at a time from a buffer.SegmentStream and reports
// "need more data" instead of blocking, so the transport pipeline can stop at any
// byte boundary and continue when the next receive completes. Skips are structural:
// values are walked without being materialized, which lets the pipeline capture the
// exact byte range of a field for deferred decoding.
//
// Item counts and payload lengths above math.MaxInt32 are rejected with
// ErrCountTooLarge regardless of the available memory.
package unpack
