package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"murmur/internal/domain"
)

// cliHost receives engine events when running without the interactive
// view. Finals go to stdout so transcripts can be piped; everything
// else goes through the logger on stderr.
type cliHost struct {
	log *log.Logger
	out io.Writer
}

func newCLIHost(logger *log.Logger) *cliHost {
	return &cliHost{log: logger, out: os.Stdout}
}

func (h *cliHost) ConnectionStateChanged(state domain.ConnectionState) {
	h.log.Debug("connection state changed", "state", state)
}

func (h *cliHost) ListeningChanged(listening bool) {
	if listening {
		h.log.Info("microphone live")
		return
	}
	h.log.Info("microphone muted")
}

func (h *cliHost) StatusChanged(status string) {
	h.log.Info(status)
}

func (h *cliHost) SessionError(code domain.ErrorCode, detail string) {
	h.log.Error("session error", "code", code, "detail", detail)
}

func (h *cliHost) listener() *domain.Listener {
	return &domain.Listener{
		OnDelta: func(text string) {
			fmt.Fprint(os.Stderr, text)
		},
		OnFinal: func(text string) {
			fmt.Fprint(os.Stderr, "\r\033[K")
			fmt.Fprintln(h.out, text)
		},
	}
}
