package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"twstock_backend/internal/app/di"
)

func symbolsCommand() *cli.Command {
	return &cli.Command{
		Name:  "symbols",
		Usage: "manage the watchlist",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "add or re-activate a symbol",
				ArgsUsage: "CODE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "display name"},
					&cli.StringFlag{Name: "market", Usage: "TWSE or TPEx"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected exactly one symbol code")
					}
					return withApp(c, func(ctx context.Context, app *di.App) error {
						if err := app.Symbols.Add(ctx, c.Args().First(), c.String("name"), c.String("market")); err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "added %s\n", c.Args().First())
						return nil
					})
				},
			},
			{
				Name:      "remove",
				Usage:     "remove a symbol from the watchlist",
				ArgsUsage: "CODE",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected exactly one symbol code")
					}
					return withApp(c, func(ctx context.Context, app *di.App) error {
						if err := app.Symbols.Remove(ctx, c.Args().First()); err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "removed %s\n", c.Args().First())
						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "list active symbols",
				Action: func(c *cli.Context) error {
					return withApp(c, func(ctx context.Context, app *di.App) error {
						symbols, err := app.Symbols.ListActiveSymbols(ctx)
						if err != nil {
							return err
						}
						w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
						fmt.Fprintln(w, "CODE\tNAME\tMARKET")
						for _, s := range symbols {
							fmt.Fprintf(w, "%s\t%s\t%s\n", s.Code, s.Name, s.Market)
						}
						return w.Flush()
					})
				},
			},
		},
	}
}
