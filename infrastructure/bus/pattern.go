package bus

import "strings"

const (
	segmentSeparator = "."
	wildcard         = "*"
)

// Match reports whether topic matches pattern.
// Topics are dot-separated segments; "*" in a pattern matches exactly one segment.
func Match(pattern, topic string) bool {
	if !strings.Contains(pattern, wildcard) {
		return pattern == topic
	}
	patternSegments := strings.Split(pattern, segmentSeparator)
	topicSegments := strings.Split(topic, segmentSeparator)
	if len(patternSegments) != len(topicSegments) {
		return false
	}
	for i, segment := range patternSegments {
		if segment == wildcard {
			if topicSegments[i] == "" {
				return false
			}
			continue
		}
		if segment != topicSegments[i] {
			return false
		}
	}
	return true
}

func IsPattern(pattern string) bool {
	return strings.Contains(pattern, wildcard)
}
