package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/KNICEX/volume-agent/internal/service/analytics"
	"github.com/KNICEX/volume-agent/internal/service/engine"
	"github.com/KNICEX/volume-agent/internal/service/notification"
	"github.com/KNICEX/volume-agent/internal/service/snapshot"
	"github.com/KNICEX/volume-agent/internal/web"
	"github.com/KNICEX/volume-agent/ioc"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// --config=./config/xxx.yaml
	configFile = pflag.String("config", "./config/config.dev.yaml", "specify config file")
	importFile = pflag.String("import", "", "import a session snapshot on startup")
	exportDir  = pflag.String("export-dir", "", "write session snapshots to this directory on shutdown")
)

func initViper() {
	pflag.Parse()

	// .env 不存在时忽略
	_ = godotenv.Load()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigFile(*configFile)
	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %s \n", err))
	}
}

func main() {
	initViper()
	logger := ioc.InitLogger()

	db := ioc.InitDB()
	paperChain := ioc.InitPaperChain()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exporter := analytics.NewExporter(reg)
	broadcaster := web.NewBroadcaster()
	notifier := notification.Multi{notification.NewConsoleNotifier(logger), broadcaster}

	ledger := ioc.InitFeeLedger(paperChain, db)
	eng := ioc.InitEngine(paperChain, ledger, db, ioc.InitPriceFeed(), exporter, notifier)

	if *importFile != "" {
		importSession(eng, *importFile)
	}

	viper.SetDefault("http.addr", ":8080")
	server := web.NewServer(viper.GetString("http.addr"), eng, broadcaster,
		web.WithGatherer(reg),
		web.WithWalletFunder(ioc.PaperFunder(paperChain)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server exited", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		slog.Error("engine shutdown failed", "error", err)
	}
	if *exportDir != "" {
		exportSessions(eng, *exportDir)
	}
}

func importSession(eng engine.Engine, path string) {
	snap, err := snapshot.Load(path)
	if err != nil {
		panic(err)
	}
	id, err := eng.ImportSession(context.Background(), snap)
	if err != nil {
		panic(err)
	}
	slog.Info("session imported", "session", id, "file", path, "wallets", len(snap.Wallets))
}

func exportSessions(eng engine.Engine, dir string) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Error("create export dir failed", "dir", dir, "error", err)
		return
	}
	for _, s := range eng.ListSessions("") {
		snap, err := eng.ExportSession(s.ID)
		if err != nil {
			slog.Error("export session failed", "session", s.ID, "error", err)
			continue
		}
		path := filepath.Join(dir, "session-"+s.ID+".json")
		if err := snapshot.Save(path, snap); err != nil {
			slog.Error("save snapshot failed", "session", s.ID, "error", err)
			continue
		}
		slog.Info("session exported", "session", s.ID, "file", path)
	}
}
