package schema

import "testing"

func TestClassifySender(t *testing.T) {
	agents := []string{"alpha", "Beta"}
	cases := []struct {
		sender string
		want   SenderClass
	}{
		{"world", SenderClassWorld},
		{" World ", SenderClassWorld},
		{"system", SenderClassSystem},
		{"alpha", SenderClassAgent},
		{"ALPHA", SenderClassAgent},
		{"beta", SenderClassAgent},
		{"carol", SenderClassHuman},
		{"", SenderClassHuman},
	}
	for _, tc := range cases {
		if got := ClassifySender(tc.sender, agents); got != tc.want {
			t.Errorf("ClassifySender(%q) = %s, want %s", tc.sender, got, tc.want)
		}
	}
}

func TestResetsTurnCounter(t *testing.T) {
	if !SenderClassHuman.ResetsTurnCounter() {
		t.Errorf("human should reset")
	}
	if !SenderClassWorld.ResetsTurnCounter() {
		t.Errorf("world should reset")
	}
	if SenderClassSystem.ResetsTurnCounter() {
		t.Errorf("system should not reset")
	}
	if SenderClassAgent.ResetsTurnCounter() {
		t.Errorf("agent should not reset")
	}
}

func TestParagraphMentions(t *testing.T) {
	cases := []struct {
		content string
		want    []string
	}{
		{"@alpha please help", []string{"alpha"}},
		{"@alpha, please help", []string{"alpha"}},
		{"Hello @alpha, how are you?", nil},
		{"hi\n@beta take over", []string{"beta"}},
		{"hi\n  @beta take over", []string{"beta"}},
		{"@@alpha nope", nil},
		{"@, nothing", nil},
		{"@alpha\n@beta", []string{"alpha", "beta"}},
		{"no mentions here", nil},
	}
	for _, tc := range cases {
		got := ParagraphMentions(tc.content)
		if len(got) != len(tc.want) {
			t.Errorf("ParagraphMentions(%q) = %v, want %v", tc.content, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("ParagraphMentions(%q)[%d] = %q, want %q", tc.content, i, got[i], tc.want[i])
			}
		}
	}
}

func TestAllMentions(t *testing.T) {
	cases := []struct {
		content string
		want    []string
	}{
		{"Hello @Alpha, how are you?", []string{"alpha"}},
		{"@alpha ping @beta", []string{"alpha", "beta"}},
		{"thanks@alpha", nil},
		{"@@broken and @, too", nil},
		{"no mentions here", nil},
	}
	for _, tc := range cases {
		got := AllMentions(tc.content)
		if len(got) != len(tc.want) {
			t.Errorf("AllMentions(%q) = %v, want %v", tc.content, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("AllMentions(%q)[%d] = %q, want %q", tc.content, i, got[i], tc.want[i])
			}
		}
	}
}

func TestHasAnyMention(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"@alpha hi", true},
		{"thanks @alpha", true},
		{"thanks@alpha", false},
		{"no one here", false},
		{"@@broken", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := HasAnyMention(tc.content); got != tc.want {
			t.Errorf("HasAnyMention(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}
