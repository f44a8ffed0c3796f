package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rancher/wrangler/pkg/signals"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func migrate(c *cli.Context) error {
	ctx := signals.SetupSignalHandler(context.Background())

	back, closeStore, err := newBackend(ctx, c)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := back.Migrate(ctx)
	if err != nil {
		return err
	}

	out, err := json.Marshal(res)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", out)
	return nil
}

func reconcile(c *cli.Context) error {
	ctx := signals.SetupSignalHandler(context.Background())

	back, closeStore, err := newBackend(ctx, c)
	if err != nil {
		return err
	}
	defer closeStore()

	released, err := back.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	logrus.WithField("command", "reconcile").Infof("Subdomains released over quota: %v", released)
	return nil
}

func migrateCommand() *cli.Command {
	flags := append(StoreFlags(), RegistryFlags()...)
	return &cli.Command{
		Name:   "migrate",
		Usage:  "convert the legacy registry blob into per-record keys",
		Action: migrate,
		Flags:  append(flags, GlobalFlags()...),
		Before: Before,
	}
}

func reconcileCommand() *cli.Command {
	flags := append(StoreFlags(), RegistryFlags()...)
	return &cli.Command{
		Name:   "reconcile",
		Usage:  "release subdomains held beyond each user's stored quota",
		Action: reconcile,
		Flags:  append(flags, GlobalFlags()...),
		Before: Before,
	}
}
