package mmap

import "strconv"

// MaxSize is the largest mapping a Region can grow to: 2GB on 32-bit
// platforms, 256TB on 64-bit ones.
const MaxSize = 1<<31 - 1 + (1<<48-1<<31)*(strconv.IntSize/64)
