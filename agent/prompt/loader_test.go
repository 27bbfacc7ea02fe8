package prompt

import (
	"strings"
	"testing"
)

func TestLoadPromptSet(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	if set.System == "" {
		t.Fatal("system prompt must not be empty")
	}
	if set.System != strings.TrimSpace(set.System) {
		t.Fatal("system prompt must be trimmed")
	}
	for _, action := range []string{"create_contact", "update_contact", "create_deal", "update_deal", "send_email"} {
		if !strings.Contains(set.System, action) {
			t.Fatalf("system prompt does not mention %s", action)
		}
	}
}
