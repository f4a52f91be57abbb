package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"barid/backend/internal/app"
	"barid/backend/internal/config"
	"barid/backend/internal/logger"
)

// env 命令运行环境，测试中替换配置来源
type env struct {
	loadConfig func() (*config.Config, error)
	verbose    bool
}

func defaultEnv() *env {
	return &env{loadConfig: config.Load}
}

func (e *env) logger() *zap.Logger {
	return logger.NewCLI(e.verbose)
}

// open 加载配置并打开全部存储
func (e *env) open(ctx context.Context) (*app.App, *zap.Logger, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := e.logger()
	a, err := app.Open(ctx, cfg, nil, log)
	if err != nil {
		return nil, nil, err
	}
	return a, log, nil
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "baridctl",
		Short:         "Operate the barid temporary mail store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newSweepCmd(e),
		newReportCmd(e),
		newIngestCmd(e),
		newImportCmd(e),
		newMigrateCmd(e),
		newDomainsCmd(e),
	)
	return root
}
