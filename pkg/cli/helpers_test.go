package cli

import (
	"io"
	"log/slog"

	"github.com/johncui/mnemo/pkg/utils/logging"
)

func newTestLogger() *slog.Logger {
	return logging.New("error", "json", io.Discard)
}
