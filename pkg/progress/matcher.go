package progress

import "strings"

// Matcher decides whether an output line indicates one unit of work.
type Matcher func(line string) bool

// Contains matches lines containing any of the words, ignoring case.
func Contains(words ...string) Matcher {
	lowered := make([]string, len(words))
	for i, w := range words {
		lowered[i] = strings.ToLower(w)
	}
	return func(line string) bool {
		l := strings.ToLower(line)
		for _, w := range lowered {
			if strings.Contains(l, w) {
				return true
			}
		}
		return false
	}
}

// AllOf matches when every matcher matches.
func AllOf(matchers ...Matcher) Matcher {
	return func(line string) bool {
		for _, m := range matchers {
			if !m(line) {
				return false
			}
		}
		return len(matchers) > 0
	}
}

// AnyOf matches when at least one matcher matches.
func AnyOf(matchers ...Matcher) Matcher {
	return func(line string) bool {
		for _, m := range matchers {
			if m(line) {
				return true
			}
		}
		return false
	}
}
