package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/johncui/mnemo/pkg/model"
)

func recallCommand() *cli.Command {
	var (
		cfg   config
		limit int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"k"},
			Usage:       "Maximum number of memories to return",
			Value:       3,
			Sources:     cli.EnvVars("MNEMO_RECALL_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, sharedFlags(&cfg)...)

	return &cli.Command{
		Name:      "recall",
		Usage:     "Print the memories nearest to a query",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(query) == "" {
				return goerr.New("query is required", goerr.T(model.TagValidation))
			}

			logger, err := cfg.newLogger(c.Root().ErrWriter)
			if err != nil {
				return err
			}

			engine, err := cfg.newEngine(ctx, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			hits, err := engine.Recall(ctx, query, int(limit))
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Fprintf(c.Root().Writer, "No memories found\n")
				return nil
			}
			for _, h := range hits {
				fmt.Fprintf(c.Root().Writer, "%.2f\t%s\n", h.Similarity, strings.ReplaceAll(h.Text, "\n", " | "))
			}
			return nil
		},
	}
}
