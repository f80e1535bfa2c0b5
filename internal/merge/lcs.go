// Package merge combines two descendants of a common ancestor line by line
// and marks the regions where they disagree.
package merge

import "bytes"

// splitLines keeps the newline on every line.
func splitLines(content []byte) [][]byte {
	var lines [][]byte
	for len(content) > 0 {
		n := bytes.IndexByte(content, '\n') + 1
		if n == 0 {
			n = len(content)
		}
		lines = append(lines, content[:n:n])
		content = content[n:]
	}
	return lines
}

// computeLCS creates the longest common subsequence matrix of two line
// lists.
func computeLCS(oldLines, newLines [][]byte) [][]int {
	matrix := make([][]int, len(oldLines)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(newLines)+1)
	}
	for i := 1; i <= len(oldLines); i++ {
		for j := 1; j <= len(newLines); j++ {
			if bytes.Equal(oldLines[i-1], newLines[j-1]) {
				matrix[i][j] = matrix[i-1][j-1] + 1
			} else {
				matrix[i][j] = max(matrix[i-1][j], matrix[i][j-1])
			}
		}
	}
	return matrix
}

// matchLines maps every old line to the index of the new line it is paired
// with in a longest common subsequence, or -1.
func matchLines(oldLines, newLines [][]byte) []int {
	lcs := computeLCS(oldLines, newLines)
	match := make([]int, len(oldLines))
	for i := range match {
		match[i] = -1
	}

	i, j := len(oldLines), len(newLines)
	for i > 0 && j > 0 {
		switch {
		case bytes.Equal(oldLines[i-1], newLines[j-1]):
			match[i-1] = j - 1
			i--
			j--
		case lcs[i][j-1] >= lcs[i-1][j]:
			j--
		default:
			i--
		}
	}
	return match
}
