package ledger

import (
	"encoding/json"
	"testing"
)

func TestEscapeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte("/usr/bin/curl"),
		[]byte{},
		{0xff, 0xfe, 'a', 'b', 0x80},
		[]byte("héllo.example.com"),
		{0x2f, 0x75, 0x73, 0x72, 0xc0, 0xaf, 0x62, 0x69, 0x6e}, // invalid overlong seq mixed in
	}
	for _, raw := range cases {
		escaped := EscapeBytes(raw)
		got := DecodeBytes(escaped)
		if string(got) != string(raw) {
			t.Errorf("round trip mismatch: raw=%v got=%v", raw, got)
		}
	}
}

func TestEscapeSurvivesJSONRoundTrip(t *testing.T) {
	raw := []byte{'/', 'b', 'i', 'n', '/', 0xff, 0x80, 'x'}
	escaped := EscapeBytes(raw)

	data, err := json.Marshal(escaped)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out string
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got := DecodeBytes(out)
	if string(got) != string(raw) {
		t.Errorf("json round trip mismatch: raw=%v got=%v (json=%s)", raw, got, data)
	}
}

func TestEscapeIsIdentityForValidUTF8(t *testing.T) {
	s := "the quick brown fox"
	if EscapeBytes([]byte(s)) != s {
		t.Errorf("EscapeBytes altered valid UTF-8 input")
	}
}
