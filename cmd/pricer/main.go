package main

import (
	"errors"
	"net/http"
	"os"

	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pricer "github.com/pya-h/online-pricer-bot-sub001"
)

const (
	broadcastWorkers = 8
	saveWorkers      = 4
)

func main() {
	var cfg pricer.Config

	var err error
	if len(os.Args) > 1 {
		err = cfg.Read(os.Args[1])
	} else {
		err = cfg.Read()
	}
	if err != nil {
		logze.Fatal(err, "cannot read config")
	}
	if err := cfg.PrepareAndValidate(); err != nil {
		logze.Fatal(err, "invalid config")
	}

	log := logze.New(logze.NewConfig().WithConsole().WithLevel(
		lang.If(cfg.Debug, logze.DebugLevel, logze.InfoLevel)))

	var runErr error
	ctx := contem.New(contem.WithLogger(pricer.AdaptLogger(log)), contem.Exit(&runErr))
	defer ctx.Shutdown()

	if runErr = run(ctx, cfg, log); runErr != nil {
		log.Error(runErr, "cannot start")
		return
	}

	log.Info("pricer is running")
	ctx.Wait()
}

func run(ctx contem.Context, cfg pricer.Config, log logze.Logger) error {
	db, err := pricer.NewMongo(ctx, cfg.DB)
	if err != nil {
		return err
	}

	store, err := pricer.NewAccountStorage(ctx, db)
	if err != nil {
		return err
	}
	saver := pricer.NewAsyncAccountStorage(ctx, store, saveWorkers, log)

	sessions, err := pricer.NewSessionCache(store, saver, cfg, log)
	if err != nil {
		return err
	}
	sessions.StartGC(ctx)

	crypto, err := pricer.NewCryptoSource(cfg.DefaultCryptoSource, cfg)
	if err != nil {
		return err
	}
	currency := pricer.NewSourceArena(cfg)

	pool, err := ants.NewPool(broadcastWorkers, ants.WithPreAlloc(true))
	if err != nil {
		return err
	}
	ctx.AddFunc(pool.Release)

	bot, err := pricer.NewBot(cfg, sessions, store, log)
	if err != nil {
		return err
	}

	// The scheduler goes in before the poller starts, so no update can
	// observe a bot without one.
	scheduler := pricer.NewBroadcastScheduler(crypto, currency, bot, pool, cfg, log)
	bot.SetScheduler(scheduler)
	ctx.AddFunc(scheduler.Stop)
	bot.Start(ctx)

	if cfg.MetricsAddress != "" {
		startMetricsServer(ctx, cfg.MetricsAddress, log)
	}

	return nil
}

func startMetricsServer(ctx contem.Context, addr string, log logze.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	ctx.Add(srv.Shutdown)

	lang.Go(pricer.AdaptLogger(log), func() {
		log.Info("metrics server is starting", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "metrics server failed")
		}
	})
}
