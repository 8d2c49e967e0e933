package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/gatekeep"
	"github.com/loykin/gatekeep/internal/logger"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gatekeep.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logger.Setup(cfg.Log.Level, cfg.Log.File)

			app, err := gatekeep.New(cfg)
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := app.Start(ctx); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			app.Stop(ctx)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "gatekeep.toml", "path to TOML config file")
	return cmd
}

func newStatusCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway process status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := NewAPIClient(gf.APIUrl).Do(http.MethodGet, "/status", nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newStartCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the gateway process",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := NewAPIClient(gf.APIUrl).Do(http.MethodPost, "/start", nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newStopCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the gateway process",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := NewAPIClient(gf.APIUrl).Do(http.MethodPost, "/stop", nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newRestartCmd(gf *GlobalFlags) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the gateway process",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"reason": reason, "actor": "cli"}
			out, err := NewAPIClient(gf.APIUrl).Do(http.MethodPost, "/restart", body)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual restart", "reason recorded in restart history")
	return cmd
}

func newLogsCmd(gf *GlobalFlags) *cobra.Command {
	var lines int
	var level string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent gateway log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/logs?lines=" + strconv.Itoa(lines)
			if level != "" {
				path += "&level=" + level
			}
			out, err := NewAPIClient(gf.APIUrl).Do(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			if m, ok := out.(map[string]interface{}); ok {
				if ls, ok := m["lines"].([]interface{}); ok {
					for _, l := range ls {
						fmt.Println(l)
					}
					return nil
				}
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "number of lines from the end of the log")
	cmd.Flags().StringVar(&level, "level", "", "filter lines by log level substring")
	return cmd
}

func newModeCmd(gf *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode [local_polling|webhook_push]",
		Short: "Show or switch the connectivity mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewAPIClient(gf.APIUrl)
			if len(args) == 0 {
				out, err := c.Do(http.MethodGet, "/mode", nil)
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			}
			out, err := c.Do(http.MethodPut, "/mode", map[string]string{"mode": args[0]})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	return cmd
}

func newWebhookCmd(gf *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Webhook operations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Run one webhook reconciliation cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := NewAPIClient(gf.APIUrl).Do(http.MethodPost, "/webhook/check", nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Apply the configured production webhook URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := NewAPIClient(gf.APIUrl).Do(http.MethodPost, "/webhook/apply", nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Delete the provider-side webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := NewAPIClient(gf.APIUrl).Do(http.MethodDelete, "/webhook", nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	})

	var setURL string
	urlCmd := &cobra.Command{
		Use:   "url",
		Short: "Set the production webhook URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := NewAPIClient(gf.APIUrl).Do(http.MethodPut, "/webhook/url", map[string]string{"url": setURL})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	urlCmd.Flags().StringVar(&setURL, "set", "", "webhook URL to persist")
	_ = urlCmd.MarkFlagRequired("set")
	cmd.AddCommand(urlCmd)

	var enabled bool
	var interval int
	autoCmd := &cobra.Command{
		Use:   "autocheck",
		Short: "Configure the periodic webhook check",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"enabled": enabled, "interval_seconds": interval}
			out, err := NewAPIClient(gf.APIUrl).Do(http.MethodPut, "/webhook/autocheck", body)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	autoCmd.Flags().BoolVar(&enabled, "enabled", true, "enable the periodic check")
	autoCmd.Flags().IntVar(&interval, "interval", 60, "check interval in seconds")
	cmd.AddCommand(autoCmd)
	return cmd
}
