// Package matrix converts between the 5x5 LED pattern a Calliope mini shows
// in pairing mode and the five-letter friendly name in its advertised name.
package matrix

import (
	"fmt"
	"strings"
)

// Size is the edge length of the LED grid.
const Size = 5

// codebook maps a column height (1..5) to the letter for that column.
var codebook = [Size][Size]byte{
	{'z', 'v', 'g', 'p', 't'},
	{'u', 'o', 'i', 'e', 'a'},
	{'z', 'v', 'g', 'p', 't'},
	{'u', 'o', 'i', 'e', 'a'},
	{'z', 'v', 'g', 'p', 't'},
}

// Matrix is an LED pattern indexed [row][column], row 0 at the top.
type Matrix [Size][Size]bool

// Heights returns the number of lit LEDs per column.
func (m Matrix) Heights() [Size]int {
	var h [Size]int
	for col := 0; col < Size; col++ {
		for row := 0; row < Size; row++ {
			if m[row][col] {
				h[col]++
			}
		}
	}
	return h
}

// Friendly returns the friendly name encoded by m. ok is false while any
// column is still dark, i.e. the pattern is incomplete.
func (m Matrix) Friendly() (name string, ok bool) {
	var b [Size]byte
	for col, h := range m.Heights() {
		if h == 0 {
			return "", false
		}
		b[col] = codebook[col][h-1]
	}
	return string(b[:]), true
}

// Toggle flips the LED at row, col. Out of range positions are ignored.
func (m *Matrix) Toggle(row, col int) {
	if row < 0 || row >= Size || col < 0 || col >= Size {
		return
	}
	m[row][col] = !m[row][col]
}

// IsEmpty reports whether no LED is lit.
func (m Matrix) IsEmpty() bool {
	return m == Matrix{}
}

// String renders the pattern as five lines of '#' and '.'.
func (m Matrix) String() string {
	var sb strings.Builder
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			if m[row][col] {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('.')
			}
		}
		if row < Size-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// FromFriendly builds the pattern for a friendly name. Each column is lit
// from the bottom up to the height its letter encodes.
func FromFriendly(name string) (Matrix, error) {
	var m Matrix
	name = strings.ToLower(name)
	if len(name) != Size {
		return m, fmt.Errorf("matrix: friendly name %q must have %d letters", name, Size)
	}
	for col := 0; col < Size; col++ {
		h := strings.IndexByte(string(codebook[col][:]), name[col]) + 1
		if h == 0 {
			return Matrix{}, fmt.Errorf("matrix: letter %q not valid at position %d of %q", name[col], col+1, name)
		}
		for i := 0; i < h; i++ {
			m[Size-1-i][col] = true
		}
	}
	return m, nil
}

// IsFriendly reports whether name is a valid friendly name.
func IsFriendly(name string) bool {
	_, err := FromFriendly(name)
	return err == nil
}

// FriendlyFromAdvertisedName extracts the bracketed device name from an
// advertised local name such as "Calliope mini [zuvip]" or
// "BBC micro:bit [tapeg]". The result is lower-cased; it is not required to
// be a valid pattern name since older firmware advertises free-form names.
func FriendlyFromAdvertisedName(advertised string) (string, bool) {
	start := strings.LastIndexByte(advertised, '[')
	end := strings.LastIndexByte(advertised, ']')
	if start < 0 || end < start {
		return "", false
	}
	name := strings.ToLower(strings.TrimSpace(advertised[start+1 : end]))
	if name == "" {
		return "", false
	}
	return name, true
}
