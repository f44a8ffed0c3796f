package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/acorn-io/acorn-registry/pkg/version"
	"github.com/urfave/cli/v2"
)

func printVersion(w io.Writer, v version.Version, asJSON bool) error {
	if asJSON {
		out, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", out)
		return err
	}

	_, err := fmt.Fprintf(w, "Tag:        %s\nGit commit: %s\nGo version: %s\n", v.Tag, v.GitCommit, v.GoVersion)
	return err
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print registry build information",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			return printVersion(c.App.Writer, version.Get(), c.Bool("json"))
		},
	}
}
