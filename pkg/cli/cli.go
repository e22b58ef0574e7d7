package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:      "mnemo",
		Usage:     "Chat service with semantic and recency memory",
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
		Commands: []*cli.Command{
			serveCommand(),
			ingestCommand(),
			recallCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
