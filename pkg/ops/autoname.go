package ops

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var counterSuffix = regexp.MustCompile(`^(.*) \((\d+)\)$`)

// splitName decomposes "stem (N).ext" into its parts. n is 0 when there is no
// counter.
func splitName(name string) (stem, ext string, n int) {
	ext = filepath.Ext(name)
	stem = strings.TrimSuffix(name, ext)
	if stem == "" {
		// dotfile such as ".profile"
		stem, ext = name, ""
	}
	if m := counterSuffix.FindStringSubmatch(stem); m != nil {
		if v, err := strconv.Atoi(m[2]); err == nil {
			return m[1], ext, v
		}
	}
	return stem, ext, 0
}

// Autoname returns name if no sibling uses it. Otherwise it returns
// "stem (N)ext" where N is one more than the largest counter any sibling with
// the same stem and extension carries, and at least 1.
func Autoname(name string, siblings []string) string {
	taken := make(map[string]struct{}, len(siblings))
	for _, s := range siblings {
		taken[s] = struct{}{}
	}
	if _, ok := taken[name]; !ok {
		return name
	}

	stem, ext, _ := splitName(name)
	max := 0
	for _, s := range siblings {
		ss, se, n := splitName(s)
		if ss == stem && se == ext && n > max {
			max = n
		}
	}

	for n := max + 1; ; n++ {
		candidate := stem + " (" + strconv.Itoa(n) + ")" + ext
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
