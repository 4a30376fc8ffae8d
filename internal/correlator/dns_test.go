package correlator

import "testing"

func TestReverseDomainName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"mail.example.com", "com.example.mail"},
		{"1.2.3.4", "1.2.3.4"},
		{"::1", "::1"},
		{"example.com", "com.example"},
	}
	for _, tc := range cases {
		if got := reverseDomainName(tc.in); got != tc.want {
			t.Errorf("reverseDomainName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsPrivateRemote(t *testing.T) {
	cases := []struct {
		ip        string
		wantPriv bool
	}{
		{"192.168.1.1", true},
		{"10.0.0.1", true},
		{"127.0.0.1", true},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
		{"fc00::1", true},
		{"not-an-ip", false},
	}
	for _, tc := range cases {
		if got := isPrivateRemote(tc.ip); got != tc.wantPriv {
			t.Errorf("isPrivateRemote(%q) = %v, want %v", tc.ip, got, tc.wantPriv)
		}
	}
}

func TestReverseDNSLookupFallsBackToIP(t *testing.T) {
	r := fakeResolver{}
	if got := reverseDNSLookup(r, "9.9.9.9"); got != "9.9.9.9" {
		t.Errorf("expected fallback to the IP itself, got %q", got)
	}
}

func TestReverseDNSLookupEmptyIP(t *testing.T) {
	r := fakeResolver{}
	if got := reverseDNSLookup(r, ""); got != "" {
		t.Errorf("expected empty string for empty ip, got %q", got)
	}
}
