package cmd

import "strings"

// maxSuggestDistance is the largest edit distance still worth suggesting.
const maxSuggestDistance = 3

// editDistance is the Levenshtein distance between a and b, computed with two rows.
func editDistance(a, b string) int {
	if a == "" {
		return len(b)
	}
	if b == "" {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			sub := prev[j-1]
			if a[i-1] != b[j-1] {
				sub++
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// closest returns the candidate nearest to input under key, or "" when
// nothing is within maxSuggestDistance. Earlier candidates win ties.
func closest(input string, candidates []string, key func(string) string) string {
	input = strings.ToLower(input)
	best, bestDist := "", maxSuggestDistance+1
	for _, c := range candidates {
		if d := editDistance(input, strings.ToLower(key(c))); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// suggestCommand finds the closest command name to the unknown input.
func suggestCommand(unknown string, commands []string) string {
	return closest(unknown, commands, func(s string) string { return s })
}

// suggestFlag compares flag names without their dashes and returns the
// match with its original prefix.
func suggestFlag(unknown string, names []string) string {
	stripped := strings.TrimLeft(unknown, "-")
	if stripped == "" {
		return ""
	}
	return closest(stripped, names, func(s string) string { return strings.TrimLeft(s, "-") })
}
