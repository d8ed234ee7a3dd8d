package phone

import "testing"

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		in, region, want string
	}{
		{"(201) 555-0123", "US", "+12015550123"},
		{"+31 6 12345678", "US", "+31612345678"},
		{"  ", "US", ""},
		{"not a number", "US", "not a number"},
	}
	for _, tc := range cases {
		if got := NormalizeE164(tc.in, tc.region); got != tc.want {
			t.Errorf("NormalizeE164(%q, %q) = %q, want %q", tc.in, tc.region, got, tc.want)
		}
	}
}

func TestIsValid(t *testing.T) {
	if !IsValid("+12015550123", "") {
		t.Fatal("expected US number to be valid")
	}
	if IsValid("12", "US") {
		t.Fatal("expected short number to be invalid")
	}
}
