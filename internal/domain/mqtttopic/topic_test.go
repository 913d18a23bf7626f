package mqtttopic

import "testing"

func TestMatches(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/x/c", false},
		{"a/#", "a/b/c", true},
		{"a/#", "a", true},
		{"a/b/#", "a/b", true},
		{"+/+", "a/b", true},
		{"+/+", "a/b/c", false},
		{"$aws/things/t/jobs", "$aws/things/t/jobs", true},
		{"+/things/t/jobs", "$aws/things/t/jobs", false},
		{"#", "$aws/things/t/jobs", false},
	}
	for _, c := range cases {
		if got := Matches(c.filter, c.topic); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.filter, c.topic, got, c.want)
		}
	}
}

func TestCovers(t *testing.T) {
	cases := []struct {
		parent, child string
		want          bool
	}{
		{"a/#", "a/b/c", true},
		{"a/#", "a/b/#", true},
		{"a/b/c", "a/b/c", true},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/d/c", false},
		{"a/b/c", "a/b/d", false},
		{"#", "anything/at/all", true},
		{"a/+", "a/#", false},
		{"a/b", "a/b/c", false},
	}
	for _, c := range cases {
		if got := Covers(c.parent, c.child); got != c.want {
			t.Errorf("Covers(%q, %q) = %v, want %v", c.parent, c.child, got, c.want)
		}
	}
}
