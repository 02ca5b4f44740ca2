package responder

import (
	"context"

	"github.com/rs/zerolog"
)

var nopLogger = zerolog.Nop()

// loggerFrom returns the cycle or mention logger attached to ctx.
func loggerFrom(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	return &nopLogger
}
