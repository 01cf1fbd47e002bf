package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v3"

	"github.com/approvia/approvia/pkg/config"
)

var ErrInvalidChainDefinitions = errors.New("invalid chain definitions found")

// NewValidateCommand checks every JSON chain definition in a directory
// without starting a service, for use in CI and deploy pipelines.
func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate chain definition files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "chains-path",
				Usage:    "Path to a directory of JSON chain definitions",
				Required: true,
				Sources:  cli.EnvVars("CHAINS_PATH"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			chainsPath := command.String("chains-path")

			files, err := filepath.Glob(filepath.Join(chainsPath, "*.json"))
			if err != nil {
				return fmt.Errorf("failed to scan %s: %w", chainsPath, err)
			}

			_, _ = fmt.Fprintln(os.Stdout, "Chain Definition Validation Results:")
			_, _ = fmt.Fprintln(os.Stdout, "====================================")

			valid := 0
			invalid := 0

			for _, file := range files {
				data, err := os.ReadFile(file)
				if err != nil {
					_, _ = fmt.Fprintf(os.Stdout, "%s: UNREADABLE: %v\n", filepath.Base(file), err)
					invalid++

					continue
				}

				chain, err := config.ParseChainDefinition(data)
				if err != nil {
					_, _ = fmt.Fprintf(os.Stdout, "%s: INVALID: %v\n", filepath.Base(file), err)
					invalid++

					continue
				}

				_, _ = fmt.Fprintf(os.Stdout, "%s: OK (%s, %d sections)\n",
					filepath.Base(file), chain.ID, chain.SectionCount())
				valid++
			}

			_, _ = fmt.Fprintf(os.Stdout, "\nValidation Summary:\n")
			_, _ = fmt.Fprintf(os.Stdout, "  Total definitions: %d\n", valid+invalid)
			_, _ = fmt.Fprintf(os.Stdout, "  Valid: %d\n", valid)
			_, _ = fmt.Fprintf(os.Stdout, "  Invalid: %d\n", invalid)

			if invalid > 0 {
				return fmt.Errorf("%w: %d", ErrInvalidChainDefinitions, invalid)
			}

			return nil
		},
	}
}
