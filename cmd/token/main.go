// Command token issues bearer tokens for API clients (for example an MCP agent).
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	jwtmw "twstock_backend/internal/platform/jwt"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "token",
		Usage: "issue a signed API token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Usage: "token subject (agent or user name)", Required: true},
			&cli.DurationFlag{Name: "ttl", Value: 30 * 24 * time.Hour, Usage: "token lifetime"},
			&cli.StringFlag{Name: "secret", EnvVars: []string{jwtmw.EnvKeyJWTSecret}, Usage: "HS256 signing secret"},
		},
		Action: func(c *cli.Context) error {
			secret := c.String("secret")
			if secret == "" {
				return errors.New(jwtmw.EnvKeyJWTSecret + " is not set")
			}
			if c.Duration("ttl") <= 0 {
				return errors.New("ttl must be positive")
			}
			token, err := jwtmw.NewGenerator(secret, c.Duration("ttl")).GenerateToken(c.String("subject"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.App.Writer, token)
			return err
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
