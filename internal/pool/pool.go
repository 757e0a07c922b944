// Package pool recycles the scratch buffers used while coding frames:
// index planes, scanlines and diffusion error rows. Buffers are kept in
// size classes so a small frame never pins a large allocation.
package pool

import "sync"

// Size classes.
const (
	Size256B = 256
	Size4K   = 4096
	Size64K  = 65536
	Size1M   = 1048576
)

var sizes = [4]int{Size256B, Size4K, Size64K, Size1M}

func bucketIndex(size int) int {
	for i, s := range sizes[:len(sizes)-1] {
		if size <= s {
			return i
		}
	}
	return len(sizes) - 1
}

var (
	bytePools  [len(sizes)]sync.Pool
	int32Pools [len(sizes)]sync.Pool
)

func init() {
	for i := range sizes {
		sz := sizes[i]
		bytePools[i].New = func() any {
			b := make([]byte, sz)
			return &b
		}
		int32Pools[i].New = func() any {
			b := make([]int32, sz)
			return &b
		}
	}
}

// Get returns a byte slice of length size. Its contents are undefined.
// Release it with Put.
func Get(size int) []byte {
	bp := bytePools[bucketIndex(size)].Get().(*[]byte)
	b := *bp
	if cap(b) < size {
		b = make([]byte, size)
		*bp = b
		return b
	}
	return b[:size]
}

// Put returns a slice obtained from Get. Slices smaller than Size256B are
// dropped.
func Put(b []byte) {
	c := cap(b)
	if c < Size256B {
		return
	}
	b = b[:c]
	bytePools[bucketIndex(c)].Put(&b)
}

// GetInt32 returns a zeroed int32 slice of the given length. Release it
// with PutInt32.
func GetInt32(length int) []int32 {
	bp := int32Pools[bucketIndex(length)].Get().(*[]int32)
	b := *bp
	if cap(b) < length {
		b = make([]int32, length)
		*bp = b
		return b
	}
	b = b[:length]
	clear(b)
	return b
}

// PutInt32 returns a slice obtained from GetInt32.
func PutInt32(b []int32) {
	c := cap(b)
	if c < Size256B {
		return
	}
	b = b[:c]
	int32Pools[bucketIndex(c)].Put(&b)
}
