package multicall

import "fmt"

// chunkRange is a half-open index range [From, To) into the encoded call list.
type chunkRange struct {
	From int
	To   int
}

// splitChunks groups consecutive calls so a chunk never holds more than maxCalls
// calls nor more than maxBytes of call data. Order is preserved. A single call
// larger than maxBytes gets a chunk of its own. maxBytes <= 0 disables the byte limit.
func splitChunks(sizes []int, maxCalls, maxBytes int) ([]chunkRange, error) {
	if maxCalls <= 0 {
		return nil, fmt.Errorf("max calls per chunk must be greater than zero")
	}

	ranges := make([]chunkRange, 0, len(sizes)/maxCalls+1)
	start := 0
	chunkBytes := 0
	for i, size := range sizes {
		count := i - start
		overCalls := count >= maxCalls
		overBytes := maxBytes > 0 && count > 0 && chunkBytes+size > maxBytes
		if overCalls || overBytes {
			ranges = append(ranges, chunkRange{From: start, To: i})
			start = i
			chunkBytes = 0
		}
		chunkBytes += size
	}
	if start < len(sizes) {
		ranges = append(ranges, chunkRange{From: start, To: len(sizes)})
	}

	return ranges, nil
}
