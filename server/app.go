package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetwake/config"
	"fleetwake/internal/api"
	"fleetwake/internal/db"
	"fleetwake/internal/dispatch"
	"fleetwake/internal/events"
	"fleetwake/internal/health"
	"fleetwake/internal/link"
	"fleetwake/internal/logs"
	"fleetwake/internal/middleware"
	"fleetwake/internal/models"
	"fleetwake/internal/registry"
	"fleetwake/internal/repo"
	"fleetwake/internal/sched"
	"fleetwake/internal/wol"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server

	hub       *events.Hub
	reg       *registry.Registry
	linkSrv   *link.Server
	scheduler *sched.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	/* 1) Логи */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	/* 2) DB */
	d, err := db.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	a.db = d

	if err := a.db.AutoMigrate(&models.Device{},
		&models.Group{},
		&models.Task{}); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	/* 3) Ядро: стора → реестр → диспетчер → планировщик */
	ds := repo.NewDeviceStore(a.db)
	gs := repo.NewGroupStore(a.db)
	ts := repo.NewTaskStore(a.db)

	a.hub = events.NewHub()
	a.reg = registry.New(a.hub)

	waker := wol.NewTransmitter(a.cfg.Wake.Port, a.cfg.Wake.Broadcast)
	disp := dispatch.New(a.reg, ds, waker)

	a.linkSrv = link.NewServer(
		net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.LinkPort),
		link.NewHandler(ds, a.reg),
	)

	a.scheduler = sched.New(ts, ds, disp, waker,
		time.Duration(a.cfg.Scheduler.IntervalSeconds)*time.Second)

	/* 4) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	/* 5) Health + операторский API */
	health.RegisterRoutesWithDB(a.Router, a.db) // /healthz, /readyz
	api.RegisterRoutes(a.Router, api.NewHandler(ds, gs, ts, a.reg, disp, waker), a.hub)

	/* (необязательно) вывести известные маршруты в лог при старте */
	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	go a.hub.Run()
	a.scheduler.Start(a.ctx)
	if err := a.linkSrv.Start(a.ctx); err != nil {
		return fmt.Errorf("link listener: %w", err)
	}

	// Жёсткие таймауты — это важно для production
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Logger.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}

	a.scheduler.Stop()
	a.linkSrv.Stop()
	a.reg.CloseAll() // разблокирует обработчики соединений
	a.linkSrv.Wait()
	a.hub.Stop()
	return nil
}
