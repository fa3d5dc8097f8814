package pagination

// Chunk is a contiguous slice of the identifier set.
type Chunk struct {
	Index int
	IDs   []int64
}

// Chunks partitions ids into contiguous chunks of size elements; the last
// chunk may be shorter. A size below 1 is treated as 1. The returned
// chunks share the backing array of ids.
func Chunks(ids []int64, size int) []Chunk {
	if size < 1 {
		size = 1
	}
	chunks := make([]Chunk, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, Chunk{Index: len(chunks), IDs: ids[start:end:end]})
	}
	return chunks
}
