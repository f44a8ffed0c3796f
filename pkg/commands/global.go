package commands

import (
	"fmt"
	"path"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level: trace, debug, info, warn, error, fatal or panic",
			Aliases: []string{"l"},
			EnvVars: []string{"LOGLEVEL", "LOG_LEVEL"},
			Value:   "info",
		},
		&cli.BoolFlag{
			Name:    "log-caller",
			Usage:   "log the caller (aka line number and file)",
			EnvVars: []string{"LOG_CALLER"},
		},
	}
}

// logLevel parses --log-level. Unknown values are an error rather than a
// silent fallback to the default.
func logLevel(c *cli.Context) (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid --log-level: %w", err)
	}
	return level, nil
}

// Before configures the JSON logger every registry command logs through.
func Before(c *cli.Context) error {
	level, err := logLevel(c)
	if err != nil {
		return err
	}

	formatter := &logrus.JSONFormatter{}
	if c.Bool("log-caller") {
		logrus.SetReportCaller(true)
		formatter.CallerPrettyfier = func(f *runtime.Frame) (string, string) {
			return "", fmt.Sprintf("%s:%d", path.Base(f.File), f.Line)
		}
	}

	logrus.SetFormatter(formatter)
	logrus.SetLevel(level)
	return nil
}
