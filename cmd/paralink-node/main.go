// Command paralink-node runs the PQL oracle node: the JSON-RPC server and
// the chain collector.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paralink-network/paralink-node/internal/app"
	"github.com/paralink-network/paralink-node/internal/config"
	"github.com/paralink-network/paralink-node/internal/middleware"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml")
	issueToken := flag.String("issue-admin-token", "", "Print an admin token for the given subject and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens printed by -issue-admin-token")
	shutdownTimeout := flag.Duration("shutdown-timeout", 30*time.Second, "Grace period for in-flight work on shutdown")
	flag.Parse()

	if v := os.Getenv("PARALINK_CONFIG"); v != "" && *configPath == "" {
		*configPath = v
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		token, err := middleware.IssueAdminToken(cfg.Server.AdminSecret, *issueToken, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	log := logger.New(cfg.Logging).Component("paralink-node")
	log.WithField("addr", cfg.Server.Addr()).
		WithField("collector", cfg.Collector.Enabled).
		WithField("ipfs", cfg.IPFS.APIURL).
		Info("starting paralink node")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := app.New(ctx, cfg, app.Overrides{}, log)
	if err != nil {
		log.WithError(err).Fatal("build node")
	}
	if err := node.Start(ctx); err != nil {
		log.WithError(err).Fatal("start node")
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if err := node.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
		os.Exit(1)
	}
	log.Info("stopped")
}
