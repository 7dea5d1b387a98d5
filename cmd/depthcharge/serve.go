package main

import (
	"context"
	"errors"
	"log"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/depthcharge/config"
	"github.com/mohammad-safakhou/depthcharge/internal/server"
	"github.com/mohammad-safakhou/depthcharge/internal/store"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string

	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			engine, corpus, err := buildEngine(cfg)
			if err != nil {
				return err
			}

			st, err := store.New(context.Background(), cfg.Storage)
			if errors.Is(err, store.ErrNotConfigured) {
				log.Printf("[SERVE] persistence disabled: %v", err)
				st = nil
			} else if err != nil {
				return err
			}

			return server.New(cfg, engine, st, corpus).Start(serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
