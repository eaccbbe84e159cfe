package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/kupanda/apps/api/echo"
	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
	"github.com/trezcool/kupanda/core/transition"
	emailsvc "github.com/trezcool/kupanda/services/email"
	locksvc "github.com/trezcool/kupanda/services/lock"
	logsvc "github.com/trezcool/kupanda/services/logger"
	metricsvc "github.com/trezcool/kupanda/services/metrics"
	"github.com/trezcool/kupanda/storage/docstore"
)

type StoreLoggerParam struct {
	dig.In
	Logger core.Logger `name:"storeLogger"`
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStoreLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "STORE : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDocStore(conf *core.Config, loggerParam StoreLoggerParam) core.DocStore {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := docstore.Open(ctx, conf)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up %s store: %v", conf.Store.Engine, err), err)
	}
	return store
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

// newLocker shares locks through redis when it is configured, so that the admin CLI and every API instance agree.
func newLocker(conf *core.Config, logger core.Logger) transition.Locker {
	if conf.Redis.Addr == "" {
		return transition.NewLocalLocker()
	}
	locker := locksvc.NewRedisLocker(locksvc.NewRedisClient(conf), conf.Redis.LockTTL, logger)
	if err := locker.Ping(context.Background()); err != nil {
		logger.Fatal(fmt.Sprintf("setting up redis locker: %v", err), err)
	}
	return locker
}

func newObserver() transition.Observer {
	return metricsvc.NewTransitionObserver(prometheus.DefaultRegisterer)
}

type engineParams struct {
	dig.In

	Conf     *core.Config
	Store    core.DocStore
	Roster   *school.RosterService
	Logger   core.Logger
	Locker   transition.Locker
	Observer transition.Observer
	MailSvc  core.EmailService
}

func newEngine(p engineParams) *transition.Engine {
	return transition.NewEngine(p.Store, p.Roster, p.Logger, transition.Options{
		ChunkSize: p.Conf.Transition.ChunkSize,
		Locker:    p.Locker,
		Observer:  p.Observer,
		MailSvc:   p.MailSvc,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newStoreLogger, dig.Name("storeLogger")))
	must(c.Provide(newDocStore))
	must(c.Provide(newEmailService))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(school.NewRosterService))
	must(c.Provide(newLocker))
	must(c.Provide(newObserver))
	must(c.Provide(newEngine))
	must(c.Provide(transition.NewService, dig.As(new(transition.ServiceInterface))))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
