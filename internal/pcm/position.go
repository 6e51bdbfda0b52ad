// Package pcm defines the interleaved PCM output domain shared by the decoder
// and the distribution layer: speaker positions, the canonical channel
// ordering, reorder permutations, and the build-time sample representation.
package pcm

import "fmt"

// Position identifies a speaker location in an output layout. The constant
// order below is the canonical interleave order: a layout is in valid order
// when its positions are strictly ascending by this enumeration.
type Position int

const (
	Mono Position = iota
	FrontLeft
	FrontRight
	FrontCenter
	LFE
	RearLeft
	RearRight
	FrontLeftOfCenter
	FrontRightOfCenter
	RearCenter
)

var positionNames = map[Position]string{
	Mono:               "MONO",
	FrontLeft:          "FL",
	FrontRight:         "FR",
	FrontCenter:        "FC",
	LFE:                "LFE",
	RearLeft:           "RL",
	RearRight:          "RR",
	FrontLeftOfCenter:  "FLC",
	FrontRightOfCenter: "FRC",
	RearCenter:         "RC",
}

func (p Position) String() string {
	if s, ok := positionNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Position(%d)", int(p))
}

// ValidOrder returns a copy of positions sorted into the canonical interleave
// order. The input is not modified.
func ValidOrder(positions []Position) []Position {
	out := make([]Position, len(positions))
	copy(out, positions)
	// Insertion sort: layouts are at most 7 channels.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// ReorderMap computes the permutation taking channel samples laid out in
// `from` order to `to` order: sample data for from[i] belongs at channel index
// m[i] of the target layout. The two layouts must contain exactly the same
// positions, each position at most once, or an error is returned.
func ReorderMap(from, to []Position) ([]int, error) {
	if len(from) != len(to) {
		return nil, fmt.Errorf("pcm: reorder layouts differ in length: %d vs %d", len(from), len(to))
	}
	idx := make(map[Position]int, len(to))
	for i, p := range to {
		if _, dup := idx[p]; dup {
			return nil, fmt.Errorf("pcm: duplicate position %s in target layout", p)
		}
		idx[p] = i
	}
	m := make([]int, len(from))
	seen := make(map[Position]bool, len(from))
	for i, p := range from {
		j, ok := idx[p]
		if !ok {
			return nil, fmt.Errorf("pcm: position %s missing from target layout", p)
		}
		if seen[p] {
			return nil, fmt.Errorf("pcm: duplicate position %s in source layout", p)
		}
		seen[p] = true
		m[i] = j
	}
	return m, nil
}
