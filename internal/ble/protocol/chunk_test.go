package protocol

import (
	"bytes"
	"testing"
)

func collect(data []byte, size int) [][]byte {
	var chunks [][]byte
	for c := range Split(data, size) {
		chunks = append(chunks, c)
	}
	return chunks
}

func TestSplitFitsInOne(t *testing.T) {
	data := []byte("hello")
	chunks := collect(data, 20)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if !bytes.Equal(chunks[0], data) {
		t.Errorf("chunk[0] = %q, want %q", chunks[0], data)
	}
}

func TestSplitEmpty(t *testing.T) {
	if chunks := collect(nil, 20); len(chunks) != 0 {
		t.Errorf("got %d chunks for empty input, want 0", len(chunks))
	}
}

func TestSplitNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if chunks := collect([]byte("hello"), size); chunks != nil {
			t.Errorf("Split(size=%d) yielded %d chunks, want none", size, len(chunks))
		}
	}
}

func TestSplitExactFit(t *testing.T) {
	data := bytes.Repeat([]byte{0xAA}, 40)
	chunks := collect(data, 20)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for i, c := range chunks {
		if len(c) != 20 {
			t.Errorf("chunk[%d] len=%d, want 20", i, len(c))
		}
	}
}

func TestSplitOneByteOver(t *testing.T) {
	data := bytes.Repeat([]byte{'a'}, 21)
	chunks := collect(data, 20)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[1]) != 1 {
		t.Errorf("last chunk len=%d, want 1", len(chunks[1]))
	}
}

func TestSplitRoundTrip(t *testing.T) {
	data := make([]byte, 257)
	for i := range data {
		data[i] = byte(i * 7)
	}

	for size := 1; size <= len(data)+3; size++ {
		chunks := collect(data, size)
		if want := ChunkCount(len(data), size); len(chunks) != want {
			t.Fatalf("size=%d: got %d chunks, want %d", size, len(chunks), want)
		}
		for i, c := range chunks {
			if len(c) == 0 {
				t.Fatalf("size=%d: chunk[%d] is empty", size, i)
			}
			if i < len(chunks)-1 && len(c) != size {
				t.Fatalf("size=%d: chunk[%d] len=%d, want %d", size, i, len(c), size)
			}
			if len(c) > size {
				t.Fatalf("size=%d: chunk[%d] len=%d exceeds max", size, i, len(c))
			}
		}
		if got := bytes.Join(chunks, nil); !bytes.Equal(got, data) {
			t.Fatalf("size=%d: reassembled data differs from input", size)
		}
	}
}

func TestSplitIsSingleUse(t *testing.T) {
	seq := Split([]byte("abcdef"), 4)

	var first int
	for range seq {
		first++
	}
	var second int
	for range seq {
		second++
	}
	if first != 2 || second != 0 {
		t.Errorf("first pass = %d chunks, second pass = %d, want 2 and 0", first, second)
	}
}

func TestSplitAbandonedYieldsNothingMore(t *testing.T) {
	seq := Split([]byte("abcdefghij"), 4)
	for range seq {
		break
	}
	var again int
	for range seq {
		again++
	}
	if again != 0 {
		t.Errorf("range after break yielded %d chunks, want 0", again)
	}
}

func TestSplitStopsEarly(t *testing.T) {
	var seen int
	for range Split(bytes.Repeat([]byte{'x'}, 100), 10) {
		seen++
		if seen == 3 {
			break
		}
	}
	if seen != 3 {
		t.Errorf("seen = %d, want 3", seen)
	}
}

func TestSplitChunksCannotGrowIntoNext(t *testing.T) {
	data := []byte("abcdefgh")
	chunks := collect(data, 4)
	_ = append(chunks[0], 'Z')
	if string(data) != "abcdefgh" {
		t.Errorf("appending to a chunk modified the source: %q", data)
	}
}
