package textgen

import "testing"

func TestFallbackKeyword(t *testing.T) {
	cases := []struct {
		topic string
		want  string
	}{
		{"how mountains form", "mountains"},
		{"The history of coffee", "history"},
		{"cat", "cat"},
		{"Почему важен сон", "почему"},
	}
	for _, c := range cases {
		if got := FallbackKeyword(c.topic); got != c.want {
			t.Errorf("FallbackKeyword(%q) = %q, want %q", c.topic, got, c.want)
		}
	}
}
