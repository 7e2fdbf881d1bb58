package security

// Ring 固定容量的环形缓冲区，满时覆盖最旧元素。非并发安全，由调用方加锁。
type Ring[T any] struct {
	items []T
	start int
	size  int
}

// NewRing 创建环形缓冲区
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push 追加元素，O(1) 淘汰最旧元素
func (r *Ring[T]) Push(item T) {
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = item
		r.size++
		return
	}
	r.items[r.start] = item
	r.start = (r.start + 1) % len(r.items)
}

// Len 当前元素数
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap 容量
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// At 第i个元素，0为最旧
func (r *Ring[T]) At(i int) T {
	return r.items[(r.start+i)%len(r.items)]
}

// Last 从新到旧遍历，最多返回 n 个满足条件的元素，结果按从旧到新排列
func (r *Ring[T]) Last(n int, match func(T) bool) []T {
	var picked []T
	for i := r.size - 1; i >= 0 && len(picked) < n; i-- {
		item := r.At(i)
		if match == nil || match(item) {
			picked = append(picked, item)
		}
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}
