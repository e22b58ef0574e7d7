package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/johncui/mnemo/pkg/adapter"
	"github.com/johncui/mnemo/pkg/engine/chat"
	"github.com/johncui/mnemo/pkg/model"
)

func ingestCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "ingest",
		Usage:     "Store the text of a PDF as document memory",
		ArgsUsage: "<file.pdf>",
		Flags:     sharedFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() == 0 {
				return goerr.New("PDF file path is required", goerr.T(model.TagValidation))
			}
			path := c.Args().Get(0)

			logger, err := cfg.newLogger(c.Root().ErrWriter)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return goerr.Wrap(err, "failed to read file", goerr.V("path", path))
			}

			engine, err := cfg.newEngine(ctx, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			ids, err := chat.IngestFile(ctx, adapter.NewPDFExtractor(), engine, filepath.Base(path), data)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Stored %d memories from %s\n", len(ids), path)
			for _, id := range ids {
				fmt.Fprintf(c.Root().Writer, "  %s\n", id)
			}
			return nil
		},
	}
}
