package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/mager/clave/aggregator"
	"github.com/mager/clave/auth"
	"github.com/mager/clave/config"
	"github.com/mager/clave/database"
	"github.com/mager/clave/dataset"
	"github.com/mager/clave/firestore"
	datasetHandler "github.com/mager/clave/handler/dataset"
	"github.com/mager/clave/handler/health"
	"github.com/mager/clave/logger"
	"github.com/mager/clave/pipeline"
	"github.com/mager/clave/spotify"
)

// Route is an http.Handler that knows the mux pattern
// under which it will be registered.
type Route interface {
	http.Handler

	// Pattern reports the path at which this is registered.
	Pattern() string
}

func main() {
	fx.New(
		fx.Provide(
			NewHTTPServer,
			fx.Annotate(NewRouter, fx.ParamTags(`group:"routes"`)),

			config.Options,
			config.ProvideGenres,
			logger.Options,
			spotify.ProvideHTTPClient,
			spotify.Options,
			auth.Options,
			aggregator.ProvideAggregator,
			database.Options,
			firestore.Options,
			dataset.ProvideStore,
			pipeline.ProvideSinks,
			pipeline.ProvidePipeline,

			AsRoute(health.NewHealthHandler),
			AsRoute(datasetHandler.NewDatasetHandler),
			AsRoute(datasetHandler.NewSummaryHandler),
		),
		fx.WithLogger(func(log *zap.SugaredLogger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Desugar()}
		}),
		fx.Invoke(RunPipeline),
		fx.Invoke(func(*http.Server) {}),
	).Run()
}

// RunPipeline starts one run when the app starts. Without CLAVE_SERVE the
// app shuts down once the run is over, exiting 1 if it failed.
func RunPipeline(
	lc fx.Lifecycle,
	sd fx.Shutdowner,
	cfg config.Config,
	log *zap.SugaredLogger,
	p *pipeline.Pipeline,
	db *database.Store,
	fs *firestore.Store,
) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				_, err := p.Run(ctx)
				if cfg.Serve {
					return
				}
				code := 0
				if err != nil {
					code = 1
				}
				if err := sd.Shutdown(fx.ExitCode(code)); err != nil {
					log.Errorw("error shutting down", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}

			var errs []error
			if db != nil {
				errs = append(errs, db.Close())
			}
			if fs != nil {
				errs = append(errs, fs.Close())
			}
			return errors.Join(errs...)
		},
	})
}

func NewRouter(routes []Route) *mux.Router {
	r := mux.NewRouter()
	for _, route := range routes {
		r.Handle(route.Pattern(), route).Methods(http.MethodGet)
	}
	return r
}

func NewHTTPServer(
	lc fx.Lifecycle,
	cfg config.Config,
	log *zap.SugaredLogger,
	router *mux.Router,
) *http.Server {
	srv := &http.Server{Addr: cfg.Addr, Handler: router}
	if !cfg.Serve {
		return srv
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Infow("starting HTTP server", "addr", srv.Addr)
			go srv.Serve(ln)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return srv
}

// AsRoute annotates the given constructor to state that
// it provides a route to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(Route)),
		fx.ResultTags(`group:"routes"`),
	)
}
