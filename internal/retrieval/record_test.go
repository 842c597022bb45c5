package retrieval

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRecordID_Deterministic(t *testing.T) {
	a := RecordID("Login button not working", "Clicking login does nothing", "")
	b := RecordID("Login button not working", "Clicking login does nothing", "")
	if a != b {
		t.Errorf("RecordID not stable: %s vs %s", a, b)
	}
	parsed, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("RecordID %q is not a UUID: %v", a, err)
	}
	if parsed.Version() != 5 {
		t.Errorf("version = %d, want 5", parsed.Version())
	}
}

func TestRecordID_DistinguishesFields(t *testing.T) {
	inputs := [][3]string{
		{"a", "b", ""},
		{"a", "b", "c"},
		{"ab", "", ""},
		{"a", "", "b"},
		{"", "a", "b"},
		{"a\x00b", "", ""},
	}
	ids := make(map[string]bool)
	for _, in := range inputs {
		ids[RecordID(in[0], in[1], in[2])] = true
	}
	if len(ids) != len(inputs) {
		t.Errorf("expected %d distinct ids, got %d", len(inputs), len(ids))
	}
}

func TestRecordID_EmbeddedNULDoesNotCollide(t *testing.T) {
	a := NewBugRecord("a\x00b", "c", "")
	b := NewBugRecord("a", "b\x00c", "")
	if a.Body == b.Body {
		t.Fatalf("bodies unexpectedly equal: %q", a.Body)
	}
	if a.ID == b.ID {
		t.Errorf("distinct reports share id %s", a.ID)
	}

	pairs := [][2][3]string{
		{{"a\x00", "b", ""}, {"a", "\x00b", ""}},
		{{"a", "b\x00c", ""}, {"a", "b", "c"}},
		{{"a\x00\x00b", "", ""}, {"a", "", "b"}},
	}
	for _, p := range pairs {
		x := RecordID(p[0][0], p[0][1], p[0][2])
		y := RecordID(p[1][0], p[1][1], p[1][2])
		if x == y {
			t.Errorf("RecordID%q and RecordID%q share id %s", p[0], p[1], x)
		}
	}
}

func TestNewBugRecord(t *testing.T) {
	r := NewBugRecord("Crash on save", "App exits when saving", "")
	if r.Body != "Crash on save\n\nApp exits when saving" {
		t.Errorf("Body = %q", r.Body)
	}
	if r.HasResolution {
		t.Error("HasResolution = true, want false")
	}

	r = NewBugRecord("Crash on save", "App exits when saving", "Null check added")
	if !strings.HasSuffix(r.Body, "\n\nResolution:\nNull check added") {
		t.Errorf("Body = %q, want resolution section", r.Body)
	}
	if !r.HasResolution {
		t.Error("HasResolution = false, want true")
	}
	if r.ID != RecordID("Crash on save", "App exits when saving", "Null check added") {
		t.Error("ID does not match RecordID of the same content")
	}
}

func TestQueryText_ExcludesResolution(t *testing.T) {
	if got := QueryText("Login button not working", "Nothing happens"); got != "Login button not working Nothing happens" {
		t.Errorf("QueryText = %q", got)
	}
}
