package mtproto

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"

	"github.com/m3rciful/fleetbot/internal/fleet"
)

func TestSessionCodecRoundTrip(t *testing.T) {
	raw := []byte(`{"Version":1,"Data":{"DC":2,"Addr":"149.154.167.50:443","AuthKey":"` + strings.Repeat("QUJD", 64) + `"}}`)
	enc, err := EncodeSession(raw)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.ContainsAny(enc, "+/=") {
		t.Fatalf("credential is not raw url base64: %q", enc)
	}
	dec, err := DecodeSession(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(dec, raw) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecodeSessionRejectsGarbage(t *testing.T) {
	if _, err := DecodeSession(""); !errors.Is(err, ErrEmptySession) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := DecodeSession("not base64 at all!"); err == nil {
		t.Fatalf("invalid base64 accepted")
	}
	if _, err := DecodeSession("aGVsbG8"); err == nil {
		t.Fatalf("non-zstd payload accepted")
	}
	if _, err := EncodeSession(nil); !errors.Is(err, ErrEmptySession) {
		t.Fatalf("encode empty: %v", err)
	}
}

func TestMemStorage(t *testing.T) {
	ctx := context.Background()
	s := newMemStorage(nil)
	if _, err := s.LoadSession(ctx); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("empty storage: %v", err)
	}
	s = newMemStorage([]byte("seed"))
	if _, changed := s.Bytes(); changed {
		t.Fatalf("seed counted as change")
	}
	if err := s.StoreSession(ctx, []byte("seed")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, changed := s.Bytes(); changed {
		t.Fatalf("identical store counted as change")
	}
	_ = s.StoreSession(ctx, []byte("next"))
	got, changed := s.Bytes()
	if !changed || string(got) != "next" {
		t.Fatalf("bytes = %q changed=%v", got, changed)
	}
}

func TestPrivacyMapping(t *testing.T) {
	for _, k := range fleet.PrivacyKeys() {
		if _, err := privacyKey(k); err != nil {
			t.Fatalf("key %s: %v", k, err)
		}
	}
	for _, v := range fleet.PrivacyValues() {
		if _, err := privacyRule(v); err != nil {
			t.Fatalf("value %s: %v", v, err)
		}
	}
	if _, err := privacyKey("bogus"); err == nil {
		t.Fatalf("unknown key accepted")
	}
}

func TestProfileOf(t *testing.T) {
	if p := profileOf(nil); p != (fleet.Profile{}) {
		t.Fatalf("nil user gave %+v", p)
	}
	p := profileOf(&tg.User{ID: 5, FirstName: "Ann", LastName: "Lee", Username: "ann_lee"})
	if p.DisplayName() != "Ann Lee" || p.Username != "ann_lee" || p.ID != 5 {
		t.Fatalf("profile = %+v", p)
	}
}

func TestCredentialNeedsStoredSession(t *testing.T) {
	s := newMemStorage(nil)
	if _, err := s.credential(); !errors.Is(err, errNoSession) {
		t.Fatalf("empty storage: %v", err)
	}
	if err := s.StoreSession(context.Background(), []byte(`{"Version":1}`)); err != nil {
		t.Fatalf("store: %v", err)
	}
	enc, err := s.credential()
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	if dec, err := DecodeSession(enc); err != nil || string(dec) != `{"Version":1}` {
		t.Fatalf("decoded %q, %v", dec, err)
	}
}

func TestLoginOutlivesFlow(t *testing.T) {
	a := NewAuthenticator(Options{})
	if got := a.opts.loginConfig(1, "hash", "+15550001111").Lifetime; got < 30*time.Minute {
		t.Fatalf("login lifetime %v is shorter than the default flow ttl", got)
	}
	a = NewAuthenticator(Options{Lifetime: 2 * time.Hour, LoginLifetime: time.Minute})
	if got := a.opts.loginConfig(1, "hash", "+15550001111").Lifetime; got != 2*time.Hour {
		t.Fatalf("login lifetime = %v", got)
	}
}
