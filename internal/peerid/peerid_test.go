package peerid

import "testing"

func TestStringParseRoundTrip(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	text := id.String()
	parsed, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", text, err)
	}

	if !id.Equal(parsed) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, id)
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []string{
		"",
		"no-separator",
		"host;not-a-uuid",
		";00000000-0000-0000-0000-000000000000",
	}

	for _, c := range cases {
		if _, err := Parse(c); err == nil && c != ";00000000-0000-0000-0000-000000000000" {
			t.Errorf("Parse(%q) expected error, got nil", c)
		}
	}
}

func TestEqualDiffersOnEitherField(t *testing.T) {
	a, _ := New()
	b := a
	b.Hostname = a.Hostname + "x"

	if a.Equal(b) {
		t.Fatal("expected different hostnames to be unequal")
	}

	c := a
	c.UUID = a.UUID
	c.UUID[0] ^= 0xFF

	if a.Equal(c) {
		t.Fatal("expected different uuids to be unequal")
	}
}

func TestIsZero(t *testing.T) {
	var zero ID
	if !zero.IsZero() {
		t.Fatal("expected zero value ID to report IsZero")
	}

	id, _ := New()
	if id.IsZero() {
		t.Fatal("expected generated ID to not report IsZero")
	}
}
