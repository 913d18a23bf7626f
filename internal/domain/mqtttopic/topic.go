// Package mqtttopic implements MQTT topic filter matching and wildcard
// subsumption, used by the multiplexer to compute a minimal covering
// filter set and to dispatch incoming messages to local callbacks
// without duplication.
package mqtttopic

import "strings"

// Split breaks a topic or filter into its '/'-separated levels.
func Split(s string) []string {
	return strings.Split(s, "/")
}

// Matches reports whether topic matches filter, honouring the MQTT
// wildcards '+' (single level) and '#' (multi-level, only valid as the
// final level).
func Matches(filter, topic string) bool {
	fLevels := Split(filter)
	tLevels := Split(topic)

	// A leading '$' topic (e.g. $aws/...) is never matched by a filter
	// whose first level is a wildcard, per the MQTT spec.
	if len(tLevels) > 0 && strings.HasPrefix(tLevels[0], "$") {
		if len(fLevels) > 0 && (fLevels[0] == "+" || fLevels[0] == "#") {
			return false
		}
	}

	i := 0
	for ; i < len(fLevels); i++ {
		fl := fLevels[i]
		if fl == "#" {
			return i == len(fLevels)-1
		}
		if i >= len(tLevels) {
			return false
		}
		if fl == "+" {
			continue
		}
		if fl != tLevels[i] {
			return false
		}
	}
	return i == len(tLevels)
}

// Covers reports whether parent subsumes child: every topic matched by
// child is also matched by parent. This is used to decide whether a new
// Subscribe call needs a fresh broker-side subscription or can be
// satisfied by local dispatch alone.
func Covers(parent, child string) bool {
	if parent == child {
		return true
	}
	pLevels := Split(parent)
	cLevels := Split(child)

	for i, pl := range pLevels {
		if pl == "#" {
			// '#' at level i covers any child level from i onward,
			// including the case where child is shorter and ends
			// exactly before i (child == parent's prefix).
			return true
		}
		if i >= len(cLevels) {
			return false
		}
		cl := cLevels[i]
		switch {
		case pl == "+":
			if cl == "#" {
				// child's '#' can match zero levels; '+' cannot cover
				// a multi-level wildcard at all, since '#' also
				// matches topics with nothing past this level while
				// '+' requires exactly one more level to exist.
				return false
			}
		case pl == cl:
			// exact match at this level, continue
		default:
			return false
		}
	}
	// parent has no more levels: child must also have none left (we
	// already returned true on '#', and a '+'/literal parent with no
	// trailing levels only covers an identically-lengthed child).
	return len(pLevels) == len(cLevels)
}
