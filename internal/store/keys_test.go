package store

import "testing"

func TestCacheKeys(t *testing.T) {
	if got := participantKey("u1"); got != "roulette:participant:u1" {
		t.Errorf("participantKey = %s", got)
	}
	if got := roundKey("r1"); got != "roulette:round:r1" {
		t.Errorf("roundKey = %s", got)
	}
}

func TestParseNullableDecimal(t *testing.T) {
	if parseNullableDecimal(nil) != nil {
		t.Error("nil input should stay nil")
	}
	bad := "not-a-number"
	if parseNullableDecimal(&bad) != nil {
		t.Error("unparseable input should be nil")
	}
	s := "12.50"
	got := parseNullableDecimal(&s)
	if got == nil || !got.Equal(d(12.5)) {
		t.Errorf("parseNullableDecimal(12.50) = %v", got)
	}
}
