package flow

import (
	"strings"
	"testing"

	"github.com/m3rciful/fleetbot/internal/fleet"
)

func TestFanOutNames(t *testing.T) {
	cases := []struct {
		name  string
		input string
		n     int
		want  []string
		fails bool
	}{
		{"single account keeps name", "John Smith", 1, []string{"John Smith"}, false},
		{"base numbered", "User", 3, []string{"User 1", "User 2", "User 3"}, false},
		{"explicit list", "John, Jane", 2, []string{"John", "Jane"}, false},
		{"list length mismatch", "A,B", 3, nil, true},
		{"empty entry", "A,,C", 3, nil, true},
		{"empty input", "  ", 2, nil, true},
		{"too long", strings.Repeat("x", maxNameLen+1), 1, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FanOutNames(tc.input, tc.n)
			if tc.fails {
				if _, ok := fleet.IsValidation(err); !ok {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tc.want, "|") {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFanOutUsernames(t *testing.T) {
	got, err := FanOutUsernames("@fleet_bot", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(got, ",") != "fleet_bot,fleet_bot_2,fleet_bot_3" {
		t.Fatalf("got %v", got)
	}

	got, err = FanOutUsernames("-", 2)
	if err != nil || len(got) != 2 || got[0] != "" || got[1] != "" {
		t.Fatalf("clear: got %v, %v", got, err)
	}

	for _, bad := range []string{"abc", "alpha1,Alpha1", "alpha1,beta2", "bad name1"} {
		if _, err := FanOutUsernames(bad, 3); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}

func TestParseBio(t *testing.T) {
	if bio, err := ParseBio("-"); err != nil || bio != "" {
		t.Fatalf("clear: %q %v", bio, err)
	}
	if bio, err := ParseBio("  hello  "); err != nil || bio != "hello" {
		t.Fatalf("trim: %q %v", bio, err)
	}
	if _, err := ParseBio(strings.Repeat("é", maxBioLen+1)); err == nil {
		t.Fatalf("long bio accepted")
	}
	if _, err := ParseBio(strings.Repeat("é", maxBioLen)); err != nil {
		t.Fatalf("bio at the limit rejected: %v", err)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+1 555 123-4567":  "+15551234567",
		"15551234567":      "+15551234567",
		"+44 (20) 7946095": "+44207946095",
	}
	for in, want := range cases {
		got, err := NormalizePhone(in)
		if err != nil || got != want {
			t.Fatalf("NormalizePhone(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "12345", "+0123456789", "phone"} {
		if _, err := NormalizePhone(bad); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}
