package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
	"github.com/trezcool/kupanda/core/transition"
	emailsvc "github.com/trezcool/kupanda/services/email"
	locksvc "github.com/trezcool/kupanda/services/lock"
	logsvc "github.com/trezcool/kupanda/services/logger"
	"github.com/trezcool/kupanda/storage/database"
	"github.com/trezcool/kupanda/storage/docstore"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	logger.Enable(!conf.Debug)

	core.ParseEmailTemplates(logger)

	// set up store
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := docstore.Open(ctx, conf)
	cancel()
	errAndDie(logger, err)

	var db *sql.DB
	if conf.Store.Engine == core.StorePostgres {
		sqlxDB, err := database.Open(conf)
		errAndDie(logger, err)
		db = sqlxDB.DB
	}

	// set up services
	var locker transition.Locker = transition.NewLocalLocker()
	if conf.Redis.Addr != "" {
		redisLocker := locksvc.NewRedisLocker(locksvc.NewRedisClient(conf), conf.Redis.LockTTL, logger)
		errAndDie(logger, redisLocker.Ping(context.Background()))
		locker = redisLocker
	}

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	roster := school.NewRosterService(store, logger)
	engine := transition.NewEngine(store, roster, logger, transition.Options{
		ChunkSize: conf.Transition.ChunkSize,
		Locker:    locker,
		MailSvc:   mailSvc,
	})

	// start CLI
	cli := commandLine{
		db:  db,
		svc: transition.NewService(roster, engine, logger, conf),
		out: os.Stdout,
	}
	err = cli.run(os.Args)

	// reports are sent in the background
	if w, ok := mailSvc.(interface{ Wait() }); ok {
		w.Wait()
	}
	if db != nil {
		_ = db.Close()
	}
	_ = store.Close()

	if err != nil {
		if err != errHelp {
			fmt.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(logger core.Logger, err error) {
	if err != nil {
		logger.Fatal(fmt.Sprintf("%v", err), err)
	}
}
