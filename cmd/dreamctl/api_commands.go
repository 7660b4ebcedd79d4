package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"dreamecho/internal/middleware"
)

const tokenIssuer = "dreamctl"

func (c *commandContext) signToken(owner int64, ttl time.Duration) (string, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return middleware.SignJWT(cfg.JWTSecret, middleware.TokenClaims{
		Sub:    strconv.FormatInt(owner, 10),
		Exp:    time.Now().Add(ttl).Unix(),
		Issuer: tokenIssuer,
	})
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var owner int64
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for an owner id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner <= 0 {
				return errors.New("--owner must be a positive id")
			}
			token, err := ctx.signToken(owner, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id placed in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var owner int64
	var title string
	var watch bool
	cmd := &cobra.Command{
		Use:   "submit [dream text]",
		Short: "Submit a dream through the API",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner <= 0 {
				return errors.New("--owner must be a positive id")
			}
			baseURL, err := ctx.apiBaseURL()
			if err != nil {
				return err
			}
			token, err := ctx.signToken(owner, time.Hour)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL, token)
			reply, err := client.submit(cmd.Context(), title, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dream %d %s\n", reply.DreamID, reply.Status)
			if !watch {
				return nil
			}
			return watchProgress(cmd.Context(), client, reply.DreamID, 2*time.Second, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner id to submit as")
	cmd.Flags().StringVar(&title, "title", "", "Optional title")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the dream finishes")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <dream id>",
		Short: "Follow a dream's progress until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid dream id %q", args[0])
			}
			baseURL, err := ctx.apiBaseURL()
			if err != nil {
				return err
			}
			return watchProgress(cmd.Context(), newAPIClient(baseURL, ""), id, interval, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval")
	return cmd
}

var stageTitle = cases.Title(language.English)

func stageLabel(stage string) string {
	if stage == "" {
		return "Unknown"
	}
	return stageTitle.String(stage)
}

// progressView renders replies either as a bar on terminals or as one line
// per change elsewhere.
type progressView struct {
	out  io.Writer
	bar  *progressbar.ProgressBar
	last string
}

func newProgressView(out io.Writer) *progressView {
	v := &progressView{out: out}
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		v.bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionSetDescription("Queued"),
		)
	}
	return v
}

func (v *progressView) update(p *progressReply) {
	label := fmt.Sprintf("%-11s %s", stageLabel(p.Stage), p.Status)
	if v.bar != nil {
		v.bar.Describe(label)
		_ = v.bar.Set(p.Progress)
		return
	}
	line := fmt.Sprintf("%3d%% %s (about %d min left)", p.Progress, label, p.RemainingMinutes)
	if line != v.last {
		fmt.Fprintln(v.out, line)
		v.last = line
	}
}

func (v *progressView) finish() {
	if v.bar != nil {
		_ = v.bar.Finish()
		fmt.Fprintln(v.out)
	}
}

func watchProgress(ctx context.Context, client *apiClient, dreamID int64, interval time.Duration, out io.Writer) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	view := newProgressView(out)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		reply, err := client.progress(ctx, dreamID)
		if err != nil {
			view.finish()
			return err
		}
		view.update(reply)
		if reply.terminal() {
			view.finish()
			if !reply.Success {
				return fmt.Errorf("dream %d failed: %s", dreamID, reply.Error)
			}
			fmt.Fprintf(out, "Dream %d complete\n", dreamID)
			return nil
		}
		select {
		case <-ctx.Done():
			view.finish()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
