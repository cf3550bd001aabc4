// Package buffer provides SegmentStream, a seekable read-only view over the receive
// buffers of one connection.
//
// The receive loop appends every chunk read from the socket as a new segment. The
// pipeline reads and seeks through the segments as if they were one contiguous stream,
// without copying. Once a message is consumed the stream is compacted and the backing
// buffers of fully consumed segments are returned for reuse.
package buffer
