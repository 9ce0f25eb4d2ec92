package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/pvsweep/pkg/config"
	"github.com/charlie0129/pvsweep/pkg/events"
	"github.com/charlie0129/pvsweep/pkg/instrument"
	"github.com/charlie0129/pvsweep/pkg/monitor"
	"github.com/charlie0129/pvsweep/pkg/sweep"
)

var (
	conf       config.Config
	conn       *instrument.Connection
	monitorCh  instrument.Session
	controller *sweep.Controller
	store      *measurementStore
	sseHub     *events.EventHub
	scheduler  *Scheduler

	monMu sync.Mutex
	mon   *monitor.Monitor
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/config", getConfig)
	router.PUT("/irradiance", setIrradiance)
	router.PUT("/area", setArea)

	router.POST("/sweep", startSweep)
	router.POST("/sweep/cancel", cancelSweep)
	router.GET("/sweep", getSweep)
	router.GET("/sweeps", listSweeps)
	router.GET("/sweep/runs", getRuns)
	router.GET("/sweep/export", exportRun)

	router.POST("/monitor/start", startMonitor)
	router.POST("/monitor/stop", stopMonitor)
	router.GET("/monitor", getMonitor)

	router.GET("/schedule", getSchedule)
	router.PUT("/schedule", setSchedule)
	router.DELETE("/schedule", deleteSchedule)
	router.POST("/schedule/postpone", postponeSchedule)
	router.POST("/schedule/skip", skipSchedule)

	router.GET("/events", getEvents)
	router.GET("/version", getVersion)

	return router
}

// channels returns the sweep and monitor SMUs named in c.
func channels(c config.Config) (instrument.SMU, instrument.SMU, error) {
	sweepSMU, err := instrument.ParseSMU(c.SweepChannel())
	if err != nil {
		return "", "", pkgerrors.Wrap(err, "invalid sweep channel")
	}
	monitorSMU, err := instrument.ParseSMU(c.MonitorChannel())
	if err != nil {
		return "", "", pkgerrors.Wrap(err, "invalid monitor channel")
	}
	if sweepSMU == monitorSMU {
		return "", "", pkgerrors.Errorf("sweep and monitor must use different channels, both are %s", sweepSMU)
	}
	return sweepSMU, monitorSMU, nil
}

func autozeroMode() instrument.AutozeroMode {
	m, err := instrument.ParseAutozeroMode(conf.Autozero())
	if err != nil {
		logrus.Warnf("invalid autozero mode %q in config, using %s", conf.Autozero(), instrument.AutozeroOnce)
		return instrument.AutozeroOnce
	}
	return m
}

// connect opens the instrument described by c with both channels configured.
func connect(c config.Config) (*instrument.Connection, error) {
	sweepSMU, monitorSMU, err := channels(c)
	if err != nil {
		return nil, err
	}
	autozero, err := instrument.ParseAutozeroMode(c.Autozero())
	if err != nil {
		return nil, pkgerrors.Wrap(err, "invalid autozero mode")
	}
	return instrument.Connect(c.Resource(), c.CurrentLimit(), autozero, sweepSMU, monitorSMU)
}

// setup wires the daemon state around an open connection and returns the
// HTTP handler.
func setup(c config.Config, cn *instrument.Connection) (*gin.Engine, error) {
	sweepSMU, monitorSMU, err := channels(c)
	if err != nil {
		return nil, err
	}
	sweepCh, err := cn.Session(sweepSMU)
	if err != nil {
		return nil, err
	}
	mch, err := cn.Session(monitorSMU)
	if err != nil {
		return nil, err
	}

	conf = c
	conn = cn
	monitorCh = mch
	sseHub = events.NewEventHub(events.DefaultBuffer)
	store = newMeasurementStore(maxMeasurements)
	controller = sweep.NewController(sweepCh,
		sweep.WithSettle(c.SettleDelay()),
		sweep.WithPassDelay(c.PassDelay()),
		sweep.WithConfigure(c.CurrentLimit(), autozeroMode()),
		sweep.WithStateListener(onSweepState),
	)
	monMu.Lock()
	mon = nil
	monMu.Unlock()

	scheduler = newSweepScheduler()
	if expr := c.Schedule(); expr != "" {
		if err := applySchedule(expr); err != nil {
			logrus.Errorf("ignoring schedule %q from config: %v", expr, err)
		}
	}

	return setupRoutes(), nil
}

// reload re-reads the config. Instrument settings only take effect after a
// restart; the schedule is applied right away.
func reload() {
	if err := conf.Load(); err != nil {
		logrus.Errorf("failed to reload config: %v", err)
		return
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")

	expr := conf.Schedule()
	if expr == scheduler.Expr() {
		return
	}
	if expr == "" {
		scheduler.Clear()
		return
	}
	if err := applySchedule(expr); err != nil {
		logrus.Errorf("failed to apply schedule %q: %v", expr, err)
	}
}

// shutdown stops every worker and disconnects the instrument, leaving all
// outputs off.
func shutdown() {
	scheduler.Stop()

	if s := controller.Current(); s != nil {
		if controller.Running() {
			logrus.Info("cancelling running sweep")
		}
		s.Cancel()
		<-s.Done()
	}
	store.consumers.Wait()

	stopMonitorIfRunning()

	if err := conn.Close(); err != nil {
		logrus.Errorf("failed to disconnect instrument: %v", err)
	}
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	c, err := config.NewFile(configPath)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to parse config during startup")
	}
	logrus.WithFields(c.LogrusFields()).Infof("config loaded")

	cn, err := connect(c)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to connect to instrument")
	}

	router, err := setup(c, cn)
	if err != nil {
		_ = cn.Close()
		return err
	}

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			reload()
		}
	}()

	srv := &http.Server{
		Handler: router,
	}

	// A socket left behind by a crashed daemon would make Listen fail.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		_ = cn.Close()
		return pkgerrors.Wrapf(err, "failed to remove stale socket %s", unixSocketPath)
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		_ = cn.Close()
		return err
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			_ = cn.Close()
			return err
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	// Ends open event streams, otherwise Shutdown waits for them.
	sseHub.Close()

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	shutdown()

	logrus.Info("exiting")
	return nil
}
