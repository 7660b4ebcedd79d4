package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dreamecho/internal/bootstrap"
	"dreamecho/internal/dispatch"
	"dreamecho/internal/domain"
	"dreamecho/internal/pipeline"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the dream store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
				if err := rt.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Schema up to date")
				return nil
			})
		},
	}
}

func newAPIKeyCommand(ctx *commandContext) *cobra.Command {
	apiKeyCmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage stored provider API keys",
	}

	var provider, key string
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store an API key for deepseek or tripo",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(key) == "" {
				return errors.New("--key is required")
			}
			return ctx.withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
				if err := rt.Migrate(cmd.Context()); err != nil {
					return err
				}
				if err := rt.Credentials.Set(cmd.Context(), provider, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s key (%s)\n", strings.ToLower(provider), maskKey(key))
				return nil
			})
		},
	}
	setCmd.Flags().StringVar(&provider, "provider", "", "Provider name: deepseek or tripo")
	setCmd.Flags().StringVar(&key, "key", "", "API key to store")
	_ = setCmd.MarkFlagRequired("provider")

	apiKeyCmd.AddCommand(setCmd)
	return apiKeyCmd
}

func maskKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var owner int64
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's dreams, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner <= 0 {
				return errors.New("--owner must be a positive id")
			}
			return ctx.withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
				dreams, err := rt.Dreams.ListByOwner(cmd.Context(), owner, limit, offset)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(dreams) == 0 {
					fmt.Fprintln(out, "No dreams")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Title", "Status", "Created", "Result"},
					dreamRows(dreams),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func dreamRows(dreams []domain.Dream) [][]string {
	rows := make([][]string, 0, len(dreams))
	for _, d := range dreams {
		result := d.ModelPath
		if d.Status == domain.DreamStatusFailed {
			result = d.ErrorMessage
		}
		rows = append(rows, []string{
			strconv.FormatInt(d.ID, 10),
			truncate(d.Title, 32),
			string(d.Status),
			humanize.Time(d.CreatedAt),
			result,
		})
	}
	return rows
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Fail stale dreams and re-dispatch pending ones once",
		Long: "Runs one recovery sweep. Processing dreams idle for longer than STALE_JOB_MINUTES are failed. " +
			"Pending dreams are republished only when DISPATCH_DRIVER=amqp, since the in-process pool lives in the api.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *bootstrap.Runtime) error {
				var dispatcher pipeline.Dispatcher
				if rt.Config.DispatchDriver == "amqp" {
					conn, err := rt.DialAMQP()
					if err != nil {
						return err
					}
					publisher, err := dispatch.NewPublisher(conn, rt.Config.AMQPExchange)
					if err != nil {
						return err
					}
					defer publisher.Close()
					dispatcher = publisher
				}
				sweeper := pipeline.NewSweeper(rt.Dreams, dispatcher, pipeline.SweeperOptions{
					StaleAfter: rt.Config.StaleJobAfter,
					Logger:     rt.Logger,
				})
				report, err := sweeper.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Interrupted: %d\nRedispatched: %d\n", report.Interrupted, report.Redispatched)
				return nil
			})
		},
	}
}
