package commands

import (
	"context"

	"github.com/acorn-io/acorn-registry/pkg/apiserver"
	"github.com/acorn-io/acorn-registry/pkg/billing"
	"github.com/acorn-io/acorn-registry/pkg/token"
	"github.com/acorn-io/acorn-registry/pkg/version"
	"github.com/rancher/wrangler/pkg/signals"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

type apiServerCommand struct{}

func (s *apiServerCommand) Execute(c *cli.Context) error {
	ctx := signals.SetupSignalHandler(context.Background())

	log := logrus.WithField("command", "api-server")

	log.Infof("version: %v", version.Get())

	tokens, err := token.NewVerifier(c.String("token-public-key"), c.StringSlice("allowed-origins"))
	if err != nil {
		return err
	}

	var webhooks *billing.Verifier
	if secret := c.String("webhook-secret"); secret != "" {
		if webhooks, err = billing.NewVerifier(secret); err != nil {
			return err
		}
	} else {
		log.Warn("no webhook secret configured, /webhook will reject every event")
	}

	aiProxy, err := apiserver.NewAIProxy(c.String("ai-api-key"), c.String("ai-upstream-url"), c.String("ai-proxy-key-hash"))
	if err != nil {
		return err
	}

	back, closeStore, err := newBackend(ctx, c)
	if err != nil {
		return err
	}
	defer closeStore()

	if c.Bool("migrate-on-start") {
		res, err := back.Migrate(ctx)
		if err != nil {
			return err
		}
		if res.Migrated {
			log.Infof("migrated legacy registry: %d subdomains, %d users", res.Subdomains, res.Users)
		}
	}

	apiServer := apiserver.NewAPIServer(ctx, log, apiserver.Config{
		Port:                  c.Int("port"),
		Tokens:                tokens,
		Webhooks:              webhooks,
		AIProxy:               aiProxy,
		AdminUserIDs:          c.StringSlice("admin-user-ids"),
		AllowedOrigins:        c.StringSlice("allowed-origins"),
		ReconcileInBackground: c.Bool("reconcile"),
	})

	if err := apiServer.Start(back); err != nil {
		return err
	}

	return nil
}

func serverCommand() *cli.Command {
	cmd := apiServerCommand{}

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Usage:   "Port for the HTTP Server Port",
			EnvVars: []string{"ACORN_PORT", "PORT"},
			Value:   4315,
		},
		&cli.StringFlag{
			Name:     "token-public-key",
			Usage:    "PEM encoded RSA public key that bearer tokens are verified against",
			EnvVars:  []string{"TOKEN_PUBLIC_KEY"},
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:    "allowed-origins",
			Usage:   "Comma separated origin patterns accepted in the azp claim and for CORS, e.g. *.example.com",
			EnvVars: []string{"ALLOWED_ORIGINS"},
		},
		&cli.StringFlag{
			Name:    "webhook-secret",
			Usage:   "Shared secret for billing webhook signatures",
			EnvVars: []string{"WEBHOOK_SECRET"},
		},
		&cli.StringFlag{
			Name:    "ai-api-key",
			Usage:   "API key the AI proxy sends upstream",
			EnvVars: []string{"AI_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "ai-upstream-url",
			Usage:   "Completion endpoint the AI proxy forwards to",
			EnvVars: []string{"AI_UPSTREAM_URL"},
			Value:   apiserver.DefaultAIUpstreamURL,
		},
		&cli.StringFlag{
			Name:    "ai-proxy-key-hash",
			Usage:   "bcrypt hash of a service key accepted by the AI proxy in place of a user token",
			EnvVars: []string{"AI_PROXY_KEY_HASH"},
		},
		&cli.StringSliceFlag{
			Name:    "admin-user-ids",
			Usage:   "Comma separated user ids allowed to call /admin routes",
			EnvVars: []string{"ADMIN_USER_IDS"},
		},
		&cli.BoolFlag{
			Name:    "migrate-on-start",
			Usage:   "Convert a legacy registry blob before serving",
			EnvVars: []string{"MIGRATE_ON_START"},
			Value:   true,
		},
		&cli.BoolFlag{
			Name:    "reconcile",
			Usage:   "Run the quota reconcile daemon in the api server",
			EnvVars: []string{"RECONCILE"},
			Value:   true,
		},
	}
	flags = append(flags, StoreFlags()...)
	flags = append(flags, RegistryFlags()...)

	return &cli.Command{
		Name:   "api-server",
		Usage:  "registry api server",
		Action: cmd.Execute,
		Flags:  append(flags, GlobalFlags()...),
		Before: Before,
	}
}
