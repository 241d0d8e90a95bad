package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	echoapi "github.com/trezcool/darasa/apps/api/echo"
	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/feedback"
	"github.com/trezcool/darasa/core/progress"
	"github.com/trezcool/darasa/core/user"
	blobsvc "github.com/trezcool/darasa/services/blob"
	emailsvc "github.com/trezcool/darasa/services/email"
	logsvc "github.com/trezcool/darasa/services/logger"
	"github.com/trezcool/darasa/storage/database"
	inmemdb "github.com/trezcool/darasa/storage/database/inmem"
	mongorepos "github.com/trezcool/darasa/storage/database/mongo"
	sqlxrepos "github.com/trezcool/darasa/storage/database/sqlx"
)

// repositories is the storage backend selected by the configuration.
type repositories struct {
	users    user.Repository
	classes  classroom.Repository
	feedback feedback.Repository
	close    func() error
}

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	zl, err := logsvc.NewZap(conf, "API")
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up zap: %v\n", err)
		os.Exit(1)
	}
	logger := logsvc.NewRollbarLogger(zl, conf)
	logger.Enable(!conf.Debug)
	defer func() { _ = logger.Sync() }()

	dbLogger := logsvc.NewRollbarLogger(zl.Named("DB"), conf)
	dbLogger.Enable(!conf.Debug)

	ctx := context.Background()

	// set up storage
	repos, err := setUpStorage(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up %s storage: %v", conf.Storage, err), err)
	}
	defer func() {
		if err = repos.close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	blobs, err := blobsvc.NewStore(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up %s blob store: %v", conf.Blob.Driver, err), err)
	}

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)

	// set up services
	usrSvc := user.NewService(repos.users, validate)
	classSvc := classroom.NewService(repos.classes, usrSvc, blobs, mailSvc, logger, conf, validate)
	progressSvc := progress.NewService(classSvc, usrSvc)
	feedbackSvc := feedback.NewService(repos.feedback, validate)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q, storage %q", conf.Build, conf.Storage))
	defer logger.Info("Application stopped")

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("storage").Set(conf.Storage)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:        conf,
			Logger:      logger,
			Validate:    validate,
			Translator:  translator,
			UserSvc:     usrSvc,
			ClassSvc:    classSvc,
			ProgressSvc: progressSvc,
			FeedbackSvc: feedbackSvc,
			Registry:    registry,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(ctx, conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpStorage(ctx context.Context, conf *core.Config) (*repositories, error) {
	switch conf.Storage {
	case core.StoragePostgres:
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}
		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, err
		}
		if err = database.Migrate(db, "up"); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &repositories{
			users:    sqlxrepos.NewUserRepository(db),
			classes:  sqlxrepos.NewClassroomRepository(db),
			feedback: sqlxrepos.NewFeedbackRepository(db),
			close:    db.Close,
		}, nil

	case core.StorageMongo:
		db, err := mongorepos.Open(ctx, conf)
		if err != nil {
			return nil, err
		}
		return &repositories{
			users:    mongorepos.NewUserRepository(db),
			classes:  mongorepos.NewClassroomRepository(db),
			feedback: mongorepos.NewFeedbackRepository(db),
			close:    db.Close,
		}, nil

	case core.StorageMemory:
		db := inmemdb.Open()
		return &repositories{
			users:    inmemdb.NewUserRepository(db),
			classes:  inmemdb.NewClassroomRepository(db),
			feedback: inmemdb.NewFeedbackRepository(db),
			close:    db.Close,
		}, nil
	}
	return nil, errors.Errorf("unknown storage driver %q", conf.Storage)
}
