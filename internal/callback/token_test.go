package callback

import (
	"errors"
	"testing"
)

func TestDecodeEncoded(t *testing.T) {
	tokens := []Token{
		Toggle(12),
		Page(0),
		Choice("last_seen"),
		Of(OpAll),
		Of(OpProceed),
		Of(OpConfirm),
		Of(OpCancel),
		Of(OpBack),
		Of(OpStop),
		Of(OpPurge),
	}
	for _, want := range tokens {
		got, err := Decode(want.Encode())
		if err != nil {
			t.Fatalf("Decode(%q): %v", want.Encode(), err)
		}
		if got != want {
			t.Fatalf("Decode(%q) = %+v, want %+v", want.Encode(), got, want)
		}
	}
}

func TestDecodeRejects(t *testing.T) {
	for _, in := range []string{"", "t", "t:-1", "t:x", "c:", "y:1", "zz", "report:1"} {
		if _, err := Decode(in); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Decode(%q) err = %v", in, err)
		}
	}
}

func TestEncodeFitsCallbackData(t *testing.T) {
	long := Toggle(1 << 30).Encode()
	if len(Unique)+len(long)+2 > 64 {
		t.Fatalf("payload %q too long", long)
	}
}
