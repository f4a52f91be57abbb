package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"barid/backend/internal/ingest"
)

// ingester *ingest.Pipeline 的最小接口
type ingester interface {
	Ingest(ctx context.Context, raw []byte, sender, recipient string) (*ingest.Result, error)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func newIngestCmd(e *env) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "ingest <file.eml|->",
		Short: "Store a single RFC 822 message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(args[0])
			if err != nil {
				return fmt.Errorf("read message: %w", err)
			}

			ctx := cmd.Context()
			a, _, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.BuildPipeline()
			if err != nil {
				return err
			}
			res, err := p.Ingest(ctx, raw, from, to)
			if shutdownErr := a.Shutdown(ctx); shutdownErr != nil && err == nil {
				err = shutdownErr
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "stored %s for %s (%d attachments, %d rejected)\n",
				res.Message.ID, res.Message.ToAddress, len(res.Attachments), res.Rejected)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Envelope sender (default: From header)")
	cmd.Flags().StringVar(&to, "to", "", "Envelope recipient (default: To header)")
	return cmd
}

// importStats mbox 导入统计
type importStats struct {
	Total  int
	Stored int
	Failed int
}

// importMbox 逐封读取 mbox 并入库，单封失败只记录日志，读取 mbox 本身出错时停止
func importMbox(ctx context.Context, r io.Reader, ing ingester, recipient string, log *zap.Logger) (importStats, error) {
	var stats importStats
	reader := mboxlib.NewReader(r)

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			return stats, fmt.Errorf("message %d: %w", idx, err)
		}
		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return stats, fmt.Errorf("message %d read: %w", idx, err)
		}

		stats.Total++
		if _, err := ing.Ingest(ctx, raw, "", recipient); err != nil {
			stats.Failed++
			log.Warn("failed to import message", zap.Int("index", idx), zap.Error(err))
			continue
		}
		stats.Stored++
	}
}

func newImportCmd(e *env) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "import <file.mbox>",
		Short: "Store every message of an mbox archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open mbox: %w", err)
			}
			defer file.Close()

			ctx := cmd.Context()
			a, log, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.BuildPipeline()
			if err != nil {
				return err
			}
			stats, err := importMbox(ctx, file, p, to, log)
			if shutdownErr := a.Shutdown(ctx); shutdownErr != nil {
				log.Warn("background tasks did not finish", zap.Error(shutdownErr))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d messages (%d failed)\n", stats.Stored, stats.Total, stats.Failed)
			return err
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Recipient for every message (default: each To header)")
	return cmd
}
