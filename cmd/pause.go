package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	pauseSource  string
	resumeSource string
)

// adminPost sends a control request to a running admin server.
func adminPost(path, source string) error {
	endpoint := fmt.Sprintf("http://localhost:%d%s", cfg.Server.Port, path)
	if source != "" {
		endpoint += "?source=" + url.QueryEscape(source)
	}

	resp, err := http.Post(endpoint, "application/json", nil)
	if err != nil {
		return eris.Wrapf(err, "reach admin server at %s", endpoint)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return eris.Errorf("admin server returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the running pipeline at the next safe boundary",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := adminPost("/pause", pauseSource); err != nil {
			return err
		}
		zap.L().Info("pause requested", zap.String("source", pauseSource))
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := adminPost("/resume", resumeSource); err != nil {
			return err
		}
		zap.L().Info("resume requested", zap.String("source", resumeSource))
		return nil
	},
}

func init() {
	pauseCmd.Flags().StringVar(&pauseSource, "source", "", "pause a single source (default: all)")
	resumeCmd.Flags().StringVar(&resumeSource, "source", "", "resume a single source (default: all)")
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
}
