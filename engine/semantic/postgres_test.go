package semantic

import "testing"

func TestNewPGStoreValidatesName(t *testing.T) {
	for _, name := range []string{"promtior_site", "_idx", "c2"} {
		if _, err := NewPGStore(nil, name); err != nil {
			t.Errorf("%q should be accepted: %v", name, err)
		}
	}
	for _, name := range []string{"", "Promtior", "a-b", "x; DROP TABLE y", "1abc"} {
		if _, err := NewPGStore(nil, name); err == nil {
			t.Errorf("%q should be rejected", name)
		}
	}
}
