package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/acorn-io/acorn-registry/pkg/backend"
	"github.com/acorn-io/acorn-registry/pkg/billing"
	"github.com/acorn-io/acorn-registry/pkg/token"
	"github.com/acorn-io/acorn-registry/pkg/version"
	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port           int
	Tokens         *token.Verifier
	Webhooks       *billing.Verifier
	AIProxy        *AIProxy
	AdminUserIDs   []string
	AllowedOrigins []string

	// ReconcileInBackground runs the quota reconcile daemon alongside the server.
	ReconcileInBackground bool
}

type apiServer struct {
	ctx context.Context
	log *logrus.Entry
	cfg Config
}

func NewAPIServer(ctx context.Context, log *logrus.Entry, cfg Config) *apiServer {
	return &apiServer{
		ctx: ctx,
		log: log,
		cfg: cfg,
	}
}

// Router builds the full route table. It is separate from Start so tests can
// drive it with httptest.
func (a *apiServer) Router(b backend.Backend) http.Handler {
	router := mux.NewRouter().StrictSlash(true)
	router.Use(loggingMiddleware(a.log))
	h := newHandler(b, a.cfg.Webhooks)

	// When functioning properly, these routes will return the version of tha app that is running
	router.Path("/").Methods("GET").HandlerFunc(h.root)
	router.Path("/healthz").Methods("GET").HandlerFunc(h.root)
	router.Path("/metrics").Methods("GET").Handler(promhttp.Handler())

	// Public reads
	router.Path("/registry.json").Methods("GET").HandlerFunc(h.registryJSON)
	router.Path("/check/{subdomain}").Methods("GET").HandlerFunc(h.check)

	// Signed by the billing provider rather than a user token
	router.Path("/webhook").Methods("POST").HandlerFunc(h.webhook)

	// The AI proxy checks its own credentials
	router.Path("/api/ai/chat").Methods("POST").Handler(a.cfg.AIProxy.withAuth(a.cfg.Tokens))

	// All routes using these subrouters require a bearer token
	authed := router.NewRoute().Subrouter()
	authed.Use(tokenAuthMiddleware(a.cfg.Tokens))

	authed.Path("/claim").Methods("POST").HandlerFunc(h.claim)
	authed.Path("/me").Methods("GET").HandlerFunc(h.me)

	authed.Path("/subdomains/{subdomain}").Methods("DELETE").HandlerFunc(h.release)
	subdomains := authed.PathPrefix("/subdomains/{subdomain}").Subrouter()
	subdomains.Path("/access").Methods("GET").HandlerFunc(h.access)
	subdomains.Path("/collaborators").Methods("POST").HandlerFunc(h.inviteCollaborator)
	subdomains.Path("/collaborators/redeem").Methods("POST").HandlerFunc(h.redeemInvite)
	subdomains.Path("/collaborators/{email}").Methods("DELETE").HandlerFunc(h.removeCollaborator)

	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(adminMiddleware(a.cfg.AdminUserIDs))
	admin.Path("/migrate").Methods("POST").HandlerFunc(h.migrate)
	admin.Path("/subdomains").Methods("GET").HandlerFunc(h.listSubdomains)
	admin.Path("/subdomains/{subdomain}/freeze").Methods("POST").HandlerFunc(h.freeze)
	admin.Path("/subdomains/{subdomain}/unfreeze").Methods("POST").HandlerFunc(h.unfreeze)

	// Note: this allows not found urls to be logged via the middleware
	// It **HAS** to be defined after all other paths are defined.
	router.NotFoundHandler = router.NewRoute().HandlerFunc(notFound).GetHandler()
	router.MethodNotAllowedHandler = http.HandlerFunc(notFound)

	return corsHandler(a.cfg.AllowedOrigins)(router)
}

func corsHandler(allowedOrigins []string) func(http.Handler) http.Handler {
	opts := []ghandlers.CORSOption{
		ghandlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Api-Key"}),
		ghandlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
	}
	if len(allowedOrigins) > 0 {
		opts = append(opts, ghandlers.AllowedOriginValidator(func(origin string) bool {
			for _, pattern := range allowedOrigins {
				if token.MatchOrigin(pattern, origin) {
					return true
				}
			}
			return false
		}))
	}
	return ghandlers.CORS(opts...)
}

func (a *apiServer) Start(backend backend.Backend) error {
	logrus.Infof("Version: %s", version.Get())

	// Below this point is where the server is started and graceful shutdown occurs.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           a.Router(backend),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.log.WithField("port", a.cfg.Port).Info("starting api server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Fatalf("listen: %s\n", err)
		}
	}()

	if a.cfg.ReconcileInBackground {
		go backend.StartReconcileDaemon(a.ctx.Done())
	}

	<-a.ctx.Done()

	a.log.Info("shutting down the api server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer func() {
		cancel()
	}()

	if err := srv.Shutdown(ctx); err != nil {
		a.log.WithError(err).Error("unable to shutdown the api server gracefully")
		return err
	}

	return nil
}
