package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zigdoc/zigdoc-server/docbuild"
	"github.com/zigdoc/zigdoc-server/docrepo"
	"github.com/zigdoc/zigdoc-server/docservice"
	"github.com/zigdoc/zigdoc-server/gitexec"
	"github.com/zigdoc/zigdoc-server/httpapi"
	"github.com/zigdoc/zigdoc-server/internal/utils"
	"github.com/zigdoc/zigdoc-server/store"
	"github.com/zigdoc/zigdoc-server/workerpool"
)

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

func envString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if ok {
		return value
	}
	return fallback
}

func usage() {
	fmt.Fprintf(os.Stderr, "NAME:\n")
	fmt.Fprintf(os.Stderr, "\tzigdoc-server - serves generated documentation for zig modules fetched directly from git.\n")
	fmt.Fprintf(os.Stderr, "\nUsage:\n")
	fmt.Fprintf(os.Stderr, "\tzigdoc-server [global options]\n")
	fmt.Fprintf(os.Stderr, "\nGLOBAL OPTIONS:\n")
	fmt.Fprintf(os.Stderr, "\t-log-level value  (default: 'info') Log level [$LOG_LEVEL]\n")
	fmt.Fprintf(os.Stderr, "\t-config value     (default: '/etc/zigdoc-server/config.yaml') Absolute path to the config file. [$ZIGDOC_CONFIG]\n")
	fmt.Fprintf(os.Stderr, "\t-admin-bind value (default: ':9001') The address the metrics/pprof server binds to. [$ZIGDOC_ADMIN_BIND]\n")

	os.Exit(2)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flagLogLevel := flag.String("log-level", envString("LOG_LEVEL", "info"), "Log level")
	flagConfig := flag.String("config", envString("ZIGDOC_CONFIG", "/etc/zigdoc-server/config.yaml"), "Absolute path to the config file")
	flagAdminBind := flag.String("admin-bind", envString("ZIGDOC_ADMIN_BIND", ":9001"), "The address the metrics/pprof server binds to")
	flagVersion := flag.Bool("version", false, "zigdoc-server version")

	flag.Usage = usage
	flag.Parse()

	info, _ := debug.ReadBuildInfo()

	if *flagVersion {
		fmt.Printf("version=%s go=%s\n", info.Main.Version, info.GoVersion)
		return
	}

	if v, ok := levelStrings[strings.ToLower(*flagLogLevel)]; ok {
		loggerLevel.Set(v)
	}

	logger.Info("version", "app", info.Main.Version, "go", info.GoVersion)
	logger.Info("config", "path", *flagConfig)

	docrepo.EnableMetrics("", prometheus.DefaultRegisterer)

	conf, err := parseConfigFile(*flagConfig)
	if err != nil {
		logger.Error("unable to parse config file", "err", err)
		configSuccess.Set(0)
		os.Exit(1)
	}
	configSuccess.Set(1)
	configSuccessTime.SetToCurrentTime()

	st, err := store.New(conf.DataDir)
	if err != nil {
		logger.Error("could not open artifact store", "dir", conf.DataDir, "err", err)
		os.Exit(1)
	}

	git := gitexec.New(conf.GitExecutable, logger.With("logger", "gitexec"))
	builder := docbuild.New(conf.ZigExecutable, conf.ZigCacheDir, logger.With("logger", "docbuild"))
	pool := workerpool.New(logger.With("logger", "workerpool"))

	checkoutDir := conf.DataDir + "/.checkouts"
	if _, err := os.Stat(checkoutDir); err == nil {
		// Nothing under the checkout scratch area is meant to outlive
		// the job that created it; clear out whatever a previous,
		// possibly crashed, run left behind before reusing it.
		if err := utils.RemoveDirContents(checkoutDir, logger.With("logger", "startup")); err != nil {
			logger.Warn("failed to clean up stale checkouts", "dir", checkoutDir, "err", err)
		}
	}

	repo, err := docrepo.New(st, git, builder, pool, checkoutDir, logger.With("logger", "docrepo"))
	if err != nil {
		logger.Error("could not create documentation repository", "err", err)
		os.Exit(1)
	}

	svc := docservice.New(repo)
	handler := httpapi.New(svc, logger.With("logger", "httpapi"), recordHTTPRequest)

	server := &http.Server{
		Addr:              net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
		Handler:           handler.Routes(),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      httpapi.SubscribeDeadline + 5*time.Second,
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 1 * time.Second,
	}

	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminMux.HandleFunc("/debug/pprof/", pprof.Index)
	adminMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	adminMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	adminMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	adminMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	adminServer := &http.Server{
		Addr:    *flagAdminBind,
		Handler: adminMux,
	}

	go func() {
		logger.Info("starting web server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server terminated", "err", err)
		}
	}()

	go func() {
		logger.Info("starting admin server", "addr", *flagAdminBind)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server terminated", "err", err)
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown http server", "err", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown admin server", "err", err)
	}

	pool.Shutdown()
	cancel()

	select {
	case <-stop:
		logger.Info("second signal received, terminating")
		os.Exit(1)
	default:
		logger.Info("shutdown complete")
	}
}
