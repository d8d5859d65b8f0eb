package audio

import (
	"math"
	"sort"
)

// RMS returns the root-mean-square amplitude of little-endian int16 PCM.
// Empty or odd-length input yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// LevelWindow is a fixed-size ring of recent amplitude readings used to derive
// adaptive thresholds. Not safe for concurrent use; callers own the locking.
type LevelWindow struct {
	ring  []float64
	next  int
	count int
}

// NewLevelWindow returns a window keeping the most recent size readings.
func NewLevelWindow(size int) *LevelWindow {
	if size < 1 {
		size = 1
	}
	return &LevelWindow{ring: make([]float64, size)}
}

// Append records a reading, evicting the oldest once the window is full.
func (w *LevelWindow) Append(v float64) {
	w.ring[w.next] = v
	w.next = (w.next + 1) % len(w.ring)
	if w.count < len(w.ring) {
		w.count++
	}
}

// Count reports how many readings the window currently holds.
func (w *LevelWindow) Count() int {
	return w.count
}

// Percentile returns the p-th percentile (0..100) of the current readings
// using nearest-rank on a sorted copy. Returns 0 when the window is empty.
func (w *LevelWindow) Percentile(p float64) float64 {
	if w.count == 0 {
		return 0
	}
	vals := make([]float64, w.count)
	if w.count < len(w.ring) {
		copy(vals, w.ring[:w.count])
	} else {
		copy(vals, w.ring)
	}
	sort.Float64s(vals)
	if p <= 0 {
		return vals[0]
	}
	if p >= 100 {
		return vals[len(vals)-1]
	}
	idx := int(math.Ceil(p/100*float64(len(vals)))) - 1
	if idx < 0 {
		idx = 0
	}
	return vals[idx]
}
