package mqtt

import "strings"

const sharePrefix = "$share/"

// topicFilter drops the "$share/<group>/" part of a shared subscription.
func topicFilter(filter string) string {
	rest, ok := strings.CutPrefix(filter, sharePrefix)
	if !ok {
		return filter
	}
	if _, f, found := strings.Cut(rest, "/"); found {
		return f
	}
	return filter
}

// topicsMatch reports whether topic matches filter, honoring the + and #
// wildcards.
func topicsMatch(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if !strings.ContainsAny(filter, "+#") {
		return false
	}

	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		switch {
		case f == "#":
			return true
		case i >= len(ts):
			return false
		case f != "+" && f != ts[i]:
			return false
		}
	}
	return len(fs) == len(ts)
}
