package callbacks

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// PayloadParts splits the update's callback payload on sep, expecting
// exactly n parts. Buttons from an older layout fail with strconv.ErrSyntax.
func PayloadParts(c tele.Context, sep string, n int) ([]string, error) {
	p := CallbackPayload(c)
	if p == "" {
		return nil, strconv.ErrSyntax
	}
	parts := strings.SplitN(p, sep, n+1)
	if n > 0 && len(parts) != n {
		return nil, strconv.ErrSyntax
	}
	return parts, nil
}
