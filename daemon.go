// Package sumid wires the daemon together: upstream client, credential
// registry, authorization coordinator, filter pipeline, and the JSON-RPC
// socket listener.
package sumid

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"

	"github.com/sumi-social/sumid/core"
	"github.com/sumi-social/sumid/filter"
	"github.com/sumi-social/sumid/oauth"
	"github.com/sumi-social/sumid/remote"
	"github.com/sumi-social/sumid/rpc"
	"github.com/sumi-social/sumid/script"
	filestore "github.com/sumi-social/sumid/store/file"
	sqlstore "github.com/sumi-social/sumid/store/sql"
)

const shutdownTimeout = 5 * time.Second

type Option func(*daemonOptions)

type daemonOptions struct {
	logger         core.Logger
	loggerProvider core.LoggerProvider
	httpClient     core.HTTPDoer
	api            core.RemoteAPI
	store          core.CacheStore
	tokenURL       string
	apiBaseURL     string
	authorizeURL   string
}

func WithLogger(logger core.Logger) Option {
	return func(o *daemonOptions) { o.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *daemonOptions) { o.loggerProvider = provider }
}

func WithHTTPClient(client core.HTTPDoer) Option {
	return func(o *daemonOptions) { o.httpClient = client }
}

// WithRemoteAPI substitutes the upstream client wholesale. Tests use it to
// run the daemon against a fake.
func WithRemoteAPI(api core.RemoteAPI) Option {
	return func(o *daemonOptions) { o.api = api }
}

func WithCacheStore(store core.CacheStore) Option {
	return func(o *daemonOptions) { o.store = store }
}

// WithUpstreamURLs points the daemon at a self-hosted or mock upstream.
func WithUpstreamURLs(tokenURL, apiBaseURL, authorizeURL string) Option {
	return func(o *daemonOptions) {
		o.tokenURL = tokenURL
		o.apiBaseURL = apiBaseURL
		o.authorizeURL = authorizeURL
	}
}

// Daemon is the assembled service. New builds it, Run serves it, Close
// tears it down.
type Daemon struct {
	cfg    core.Config
	logger core.Logger

	persistence *persistence.Client
	registry    *core.Registry
	coordinator *oauth.Coordinator
	pipeline    *filter.Pipeline
	dispatcher  *rpc.Dispatcher
	listener    *rpc.Listener
}

func New(ctx context.Context, cfg core.Config, options ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := daemonOptions{}
	for _, option := range options {
		if option != nil {
			option(&o)
		}
	}

	_, logger := glog.Resolve("sumid", o.loggerProvider, o.logger)
	logger = glog.Ensure(logger)

	api := o.api
	if api == nil {
		client, err := remote.NewClient(remote.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     o.tokenURL,
			APIBaseURL:   o.apiBaseURL,
			HTTPClient:   o.httpClient,
		}, logger)
		if err != nil {
			return nil, err
		}
		api = client
	}

	daemon := &Daemon{cfg: cfg, logger: logger}

	store := o.store
	if store == nil {
		var err error
		store, err = daemon.openStore(ctx, cfg.Cache, logger)
		if err != nil {
			return nil, err
		}
	}

	authorizeURL := o.authorizeURL
	if authorizeURL == "" {
		authorizeURL = remote.DefaultAuthorizeURL
	}
	coordinator, err := oauth.NewCoordinator(oauth.Config{
		ClientID:     cfg.ClientID,
		AuthorizeURL: authorizeURL,
		RedirectHost: cfg.RedirectHost,
		Scopes:       cfg.Scopes,
	}, api, logger)
	if err != nil {
		return nil, err
	}

	registry, err := core.NewRegistry(ctx, core.RegistryDeps{
		API:       api,
		Refresher: coordinator,
		Store:     store,
		Scopes:    cfg.Scopes,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	// a broken filter set keeps the daemon from starting; better loud at
	// boot than a half-filtered timeline
	descriptors, err := filter.Load(cfg.FilterDir, cfg.Scopes)
	if err != nil {
		return nil, err
	}
	pipeline, err := filter.NewPipeline(descriptors, script.NewEngine(), logger)
	if err != nil {
		return nil, err
	}

	dispatcher, err := rpc.NewDispatcher(registry, coordinator, pipeline, logger)
	if err != nil {
		return nil, err
	}
	listener, err := rpc.NewListener(cfg.SocketPath, dispatcher, logger)
	if err != nil {
		return nil, err
	}

	daemon.registry = registry
	daemon.coordinator = coordinator
	daemon.pipeline = pipeline
	daemon.dispatcher = dispatcher
	daemon.listener = listener
	return daemon, nil
}

func (d *Daemon) openStore(ctx context.Context, cfg core.CacheConfig, logger core.Logger) (core.CacheStore, error) {
	switch cfg.Driver {
	case "file":
		return filestore.NewCacheStore(cfg.Path, logger)
	case "sqlite3", "postgres":
		migrations, err := MigrationsFor(cfg.Driver)
		if err != nil {
			return nil, err
		}
		client, store, err := sqlstore.Open(ctx, cfg, migrations)
		if err != nil {
			return nil, err
		}
		d.persistence = client
		return store, nil
	default:
		return nil, fmt.Errorf("sumid: unsupported cache driver %q", cfg.Driver)
	}
}

// Run serves the redirect listener and the RPC socket until the context is
// cancelled, then shuts both down.
func (d *Daemon) Run(ctx context.Context) error {
	redirectErr := make(chan error, 1)
	go func() {
		redirectErr <- d.coordinator.Serve()
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- d.listener.Serve(ctx)
	}()

	d.logger.Info("daemon started",
		"socket", d.cfg.SocketPath,
		"redirect_host", d.cfg.RedirectHost,
		"filters", d.pipeline.Names(),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		serveErr = nil
	case runErr = <-redirectErr:
		redirectErr = nil
	}

	closeErr := d.Close()
	if serveErr != nil {
		<-serveErr
	}
	if redirectErr != nil {
		<-redirectErr
	}
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// Close releases the sockets, cancels pending authorizations, and closes
// the persistence client when one is open.
func (d *Daemon) Close() error {
	if d == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	if d.listener != nil {
		if err := d.listener.Close(); err != nil {
			firstErr = err
		}
	}
	if d.coordinator != nil {
		if err := d.coordinator.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.persistence != nil {
		if err := d.persistence.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Dispatcher exposes the RPC surface for in-process callers and tests.
func (d *Daemon) Dispatcher() *rpc.Dispatcher {
	if d == nil {
		return nil
	}
	return d.dispatcher
}
