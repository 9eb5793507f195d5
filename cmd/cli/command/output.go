package command

import (
	"errors"
	"fmt"
	"io"

	"eventmanager/internal/microservices/bridge"

	"github.com/fatih/color"
)

var (
	okColor    = color.New(color.FgGreen)
	errorColor = color.New(color.FgRed)
	infoColor  = color.New(color.FgCyan)
)

func printOK(w io.Writer, format string, args ...any) {
	okColor.Fprintf(w, "✓ "+format+"\n", args...)
}

// describe turns bot errors into the line shown to the operator.
func describe(err error) string {
	var remote *bridge.RemoteError
	switch {
	case errors.As(err, &remote):
		return fmt.Sprintf("bot refused %s: %s", remote.Action, remote.Message)
	case errors.Is(err, bridge.ErrBotUnavailable):
		return "bot is not reachable at " + botAddr
	default:
		return err.Error()
	}
}
