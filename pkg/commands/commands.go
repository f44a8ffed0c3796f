package commands

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func GetCommands() []*cli.Command {
	return []*cli.Command{
		serverCommand(),
		migrateCommand(),
		reconcileCommand(),
		versionCommand(),
	}
}

// LoadDotEnv reads a .env file from the working directory when one exists.
// It has to run before the app parses flags for EnvVars to see the values.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.Warnf("unable to load .env: %v", err)
	}
}
