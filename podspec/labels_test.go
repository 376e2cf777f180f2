package podspec

import "testing"

func TestKeyRewritesUnderscores(t *testing.T) {
	if got := Key("pool_id"); got != "bondifuzz/pool-id" {
		t.Fatalf("Key(pool_id) = %q, want bondifuzz/pool-id", got)
	}
}

func TestParseLabelsRoundTrip(t *testing.T) {
	raw := map[string]string{
		Key("user_id"):    "u1",
		Key("pool_id"):    "p1",
		"other/unrelated": "x",
	}
	got := ParseLabels(raw)
	if got["user_id"] != "u1" || got["pool_id"] != "p1" {
		t.Fatalf("ParseLabels = %+v", got)
	}
	if _, ok := got["unrelated"]; ok {
		t.Fatal("unrelated label leaked into bondifuzz namespace")
	}
}
