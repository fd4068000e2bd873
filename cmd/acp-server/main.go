// Command acp-server exposes the built-in agents, and any configured remote agents,
// over the ACP HTTP protocol.
package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xiaot623/gogo/acp/internal/adapter/acpclient"
	"github.com/xiaot623/gogo/acp/internal/agent"
	"github.com/xiaot623/gogo/acp/internal/config"
	"github.com/xiaot623/gogo/acp/internal/domain"
	"github.com/xiaot623/gogo/acp/internal/logger"
	"github.com/xiaot623/gogo/acp/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.WithComponent("main").WithError(err).Fatal("failed to load configuration")
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.WithComponent("main")

	log.WithFields(logrus.Fields{
		"addr":     cfg.Addr(),
		"database": cfg.DatabaseURL,
		"server":   cfg.ServerName,
	}).Info("starting acp-server")

	ctx := context.Background()
	srv, err := server.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize server")
	}

	srv.MustRegister(agent.NewEchoAgent("echo", agent.NewUnconstrainedMemory()),
		server.WithTags("builtin", "demo"))
	srv.MustRegister(agent.NewFuncAgent("reverse", "Reverses the last user message.", reverse),
		server.WithTags("builtin"))

	remotes, err := cfg.ParseRemoteAgents()
	if err != nil {
		log.WithError(err).Fatal("invalid remote agent configuration")
	}
	for _, r := range remotes {
		client := acpclient.New(r.URL, r.Name)
		remote := agent.NewRemoteAgent(client)

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := remote.CheckAgentExists(checkCtx)
		cancel()
		if err != nil {
			log.WithError(err).WithField("agent", r.Name).Warn("remote agent not reachable, registering anyway")
		}
		if _, err := srv.Register(remote, server.WithTags("remote"), server.WithMetadata(map[string]any{"url": r.URL})); err != nil {
			log.WithError(err).WithField("agent", r.Name).Fatal("failed to register remote agent")
		}
	}

	if err := srv.Serve(ctx); err != nil {
		log.WithError(err).Error("server stopped with error")
		os.Exit(1)
	}
	log.Info("acp-server stopped")
}

func reverse(ctx context.Context, input domain.Input, emit agent.Emitter) (*domain.RunOutput, error) {
	text := input.LastUserText()
	if err := agent.EmitData(ctx, emit, "progress", map[string]any{"chars": len(text)}); err != nil {
		return nil, err
	}

	runes := []rune(text)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	out := string(runes)
	if err := agent.EmitText(ctx, emit, out); err != nil {
		return nil, err
	}
	return domain.TextOutput(out), nil
}
