package fleet

import (
	"testing"
	"time"
)

func TestParseChatLink(t *testing.T) {
	cases := []struct {
		in       string
		username string
		hash     string
	}{
		{"@golang_news", "golang_news", ""},
		{"t.me/golang_news", "golang_news", ""},
		{"https://t.me/golang_news/", "golang_news", ""},
		{"https://t.me/+AbC-12_x", "", "AbC-12_x"},
		{"https://t.me/joinchat/AbC123", "", "AbC123"},
	}
	for _, tc := range cases {
		ref, err := ParseChatLink(tc.in)
		if err != nil {
			t.Fatalf("ParseChatLink(%q): %v", tc.in, err)
		}
		if ref.Username != tc.username || ref.InviteHash != tc.hash {
			t.Fatalf("ParseChatLink(%q) = %+v", tc.in, ref)
		}
		if ref.String() != tc.in {
			t.Fatalf("String() = %q, want %q", ref.String(), tc.in)
		}
	}
}

func TestParseChatLinkRejects(t *testing.T) {
	for _, in := range []string{"", "-1001234567", "https://t.me/addlist/abc", "@abc", "example.com/x"} {
		_, err := ParseChatLink(in)
		if err == nil {
			t.Fatalf("ParseChatLink(%q) expected error", in)
		}
		if _, ok := IsValidation(err); !ok {
			t.Fatalf("ParseChatLink(%q) error %T is not a validation error", in, err)
		}
	}
}

func TestParseTarget(t *testing.T) {
	got, err := ParseTarget("https://t.me/some_bot")
	if err != nil || got != "some_bot" {
		t.Fatalf("ParseTarget = %q, %v", got, err)
	}
	if _, err := ParseTarget("https://t.me/+invite"); err == nil {
		t.Fatal("invite links are not valid message targets")
	}
}

func TestParsePrivacy(t *testing.T) {
	if k, ok := ParsePrivacyKey("Groups"); !ok || k != PrivacyInvites {
		t.Fatalf("groups alias = %q, %v", k, ok)
	}
	if _, ok := ParsePrivacyKey("birthday"); ok {
		t.Fatal("unexpected key accepted")
	}
	if v, ok := ParsePrivacyValue(" Nobody "); !ok || v != PrivacyNobody {
		t.Fatalf("value = %q, %v", v, ok)
	}
	if len(PrivacyKeys()) != 6 {
		t.Fatalf("keys = %v", PrivacyKeys())
	}
}

func TestNewPlanCopiesAccounts(t *testing.T) {
	accounts := []Account{{ID: 1}, {ID: 2}}
	plan := NewPlan(7, accounts, SetBio{Bio: "x"}, 0, time.Unix(0, 0))
	accounts[0].ID = 99
	if plan.Accounts[0].ID != 1 {
		t.Fatal("plan shares the caller's slice")
	}
	if plan.Repeat != 1 {
		t.Fatalf("repeat = %d, want 1", plan.Repeat)
	}
	if plan.Kind() != ActionBio {
		t.Fatalf("kind = %q", plan.Kind())
	}
}

func TestAccountLabelMasksPhone(t *testing.T) {
	a := Account{Phone: "+15550001234"}
	if got := a.Label(); got != "+1********34" {
		t.Fatalf("label = %q", got)
	}
	a.Name, a.Username = "Alpha 1", "alpha1"
	if got := a.Label(); got != "Alpha 1 (@alpha1)" {
		t.Fatalf("label = %q", got)
	}
}
