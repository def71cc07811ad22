package protocol

import "iter"

// DefaultChunkSize is the write size that fits the minimum ATT MTU of 23
// bytes after the 3-byte ATT header. It is used when the link does not
// report a larger size.
const DefaultChunkSize = 20

// Split yields data in consecutive chunks of at most size bytes. Every chunk
// except possibly the last is exactly size bytes and none are empty, so the
// chunks concatenate back to data. Nothing is yielded for empty data or a
// non-positive size.
//
// The sequence is single-use: after the first range over it, consumed or
// abandoned, it yields nothing more. Chunks alias data, so data must not
// change while iterating.
func Split(data []byte, size int) iter.Seq[[]byte] {
	used := false
	return func(yield func([]byte) bool) {
		if used || size <= 0 {
			return
		}
		used = true
		for len(data) > 0 {
			n := min(size, len(data))
			chunk := data[:n:n]
			data = data[n:]
			if !yield(chunk) {
				return
			}
		}
	}
}

// ChunkCount returns how many chunks Split yields for n bytes.
func ChunkCount(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
