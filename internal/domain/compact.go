package domain

import (
	"sort"
	"strconv"
	"strings"
)

// EncodeCompact run-length encodes a set of line numbers into the canonical
// "L10-12,L20" form. Input is deduplicated and sorted first, so the encoding
// is stable for any permutation of the same set.
func EncodeCompact(lines []int) string {
	if len(lines) == 0 {
		return ""
	}
	uniq := make([]int, 0, len(lines))
	seen := make(map[int]struct{}, len(lines))
	for _, n := range lines {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			uniq = append(uniq, n)
		}
	}
	sort.Ints(uniq)

	var sb strings.Builder
	start, prev := uniq[0], uniq[0]
	flush := func() {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('L')
		sb.WriteString(strconv.Itoa(start))
		if prev != start {
			sb.WriteByte('-')
			sb.WriteString(strconv.Itoa(prev))
		}
	}
	for _, n := range uniq[1:] {
		if n == prev+1 {
			prev = n
			continue
		}
		flush()
		start, prev = n, n
	}
	flush()
	return sb.String()
}

// DecodeCompact expands "L10-12,L20" back into sorted line numbers.
// Malformed segments are skipped.
func DecodeCompact(compact string) []int {
	if compact == "" {
		return nil
	}
	var out []int
	for _, seg := range strings.Split(compact, ",") {
		seg = strings.TrimPrefix(strings.TrimSpace(seg), "L")
		if seg == "" {
			continue
		}
		if i := strings.IndexByte(seg, '-'); i >= 0 {
			lo, err1 := strconv.Atoi(seg[:i])
			hi, err2 := strconv.Atoi(seg[i+1:])
			if err1 != nil || err2 != nil || hi < lo {
				continue
			}
			for n := lo; n <= hi; n++ {
				out = append(out, n)
			}
			continue
		}
		n, err := strconv.Atoi(seg)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
