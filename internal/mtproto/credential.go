package mtproto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ErrEmptySession is returned when a credential carries no session bytes.
var ErrEmptySession = errors.New("mtproto: empty session")

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// maxSessionSize bounds decoded session blobs.
const maxSessionSize = 1 << 20

// EncodeSession packs raw session storage bytes into the stored credential
// string: zstd, then unpadded url-safe base64.
func EncodeSession(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", ErrEmptySession
	}
	return base64.RawURLEncoding.EncodeToString(encoder.EncodeAll(raw, nil)), nil
}

// DecodeSession reverses EncodeSession.
func DecodeSession(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	if s == "" {
		return nil, ErrEmptySession
	}
	packed, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("mtproto: decode session: %w", err)
	}
	raw, err := decoder.DecodeAll(packed, make([]byte, 0, len(packed)*4))
	if err != nil {
		return nil, fmt.Errorf("mtproto: decompress session: %w", err)
	}
	if len(raw) > maxSessionSize {
		return nil, fmt.Errorf("mtproto: session is %d bytes", len(raw))
	}
	return raw, nil
}
