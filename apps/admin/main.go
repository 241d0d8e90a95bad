package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
	logsvc "github.com/trezcool/darasa/services/logger"
	"github.com/trezcool/darasa/storage/database"
	inmemdb "github.com/trezcool/darasa/storage/database/inmem"
	mongorepos "github.com/trezcool/darasa/storage/database/mongo"
	sqlxrepos "github.com/trezcool/darasa/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	zl, err := logsvc.NewZap(conf, "ADMIN")
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up zap: %v\n", err)
		os.Exit(1)
	}
	logger := logsvc.NewRollbarLogger(zl, conf)
	logger.Enable(!conf.Debug)

	ctx := context.Background()
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)

	var cli commandLine
	switch conf.Storage {
	case core.StoragePostgres:
		db, err := database.Open(ctx, conf)
		errAndDie(logger, err)
		defer db.Close()
		cli.db = db
		cli.usrSvc = user.NewService(sqlxrepos.NewUserRepository(db), validate)
	case core.StorageMongo:
		db, err := mongorepos.Open(ctx, conf)
		errAndDie(logger, err)
		defer db.Close()
		cli.usrSvc = user.NewService(mongorepos.NewUserRepository(db), validate)
	default:
		cli.usrSvc = user.NewService(inmemdb.NewUserRepository(inmemdb.Open()), validate)
	}

	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		_ = logger.Sync()
		os.Exit(1)
	}
}

func errAndDie(logger core.Logger, err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}

// sqlDB is nil unless the postgres storage is configured.
func (cli *commandLine) sqlDB() (*sqlx.DB, error) {
	if cli.db == nil {
		return nil, errNoSQL
	}
	return cli.db, nil
}
