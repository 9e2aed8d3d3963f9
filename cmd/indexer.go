package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/app"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/config"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/repository"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/service"
)

var (
	indexerCmd = &cobra.Command{
		Use:   "indexer",
		Short: "Indexer maintenance",
	}

	indexerResetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Truncate derived tables and move the cursor to the current safe head",
		RunE: withIndexer(func(cmd *cobra.Command, svc *service.IndexerService) error {
			if err := svc.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "indexer reset")
			return nil
		}),
	}

	indexerStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print cursor, chain head and lag",
		RunE: withIndexer(func(cmd *cobra.Command, svc *service.IndexerService) error {
			st, err := svc.Status(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}),
	}
)

func init() {
	indexerCmd.AddCommand(indexerResetCmd, indexerStatusCmd)
}

// withIndexer 构建只读的索引服务 (不加载私钥, 不连接 Redis/Kafka)
func withIndexer(fn func(cmd *cobra.Command, svc *service.IndexerService) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		db, err := app.OpenDatabase(cfg.Postgres)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		readOnly := *cfg
		readOnly.Service.Mode = config.ModeReadOnly

		client, err := app.NewChainClient(cmd.Context(), &readOnly)
		if err != nil {
			return err
		}
		defer client.Close()

		chain, err := app.NewGameChain(&readOnly, client, nil)
		if err != nil {
			return err
		}

		svc := app.NewIndexerService(&readOnly, chain, repository.NewIndexerRepository(db), nil)
		return fn(cmd, svc)
	}
}
