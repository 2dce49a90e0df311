package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghuser/notifyhub/pkg/auth"
	"github.com/ghuser/notifyhub/services/notification/domain/models"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// client is the shared HTTP state of the API subcommands.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
}

func newRootCommand() *cobra.Command {
	c := &client{http: &http.Client{}}

	root := &cobra.Command{
		Use:           "notifyctl",
		Short:         "notifyhub client commands",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&c.baseURL, "url", envOr("NOTIFYHUB_URL", "http://localhost:8080"), "notifyhub base URL")
	root.PersistentFlags().StringVar(&c.token, "token", os.Getenv("NOTIFYHUB_TOKEN"), "Bearer token")

	root.AddCommand(
		newTokenCommand(),
		newPublishCommand(c),
		newStatusCommand(c),
		newTailCommand(c),
	)
	return root
}

// newTokenCommand constructs the `token` subcommand.
func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <recipient>",
		Short: "Sign a recipient or service token with the shared secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			issuer, _ := cmd.Flags().GetString("issuer")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			scopes, _ := cmd.Flags().GetStringSlice("scope")
			if secret == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			tok, err := auth.NewTokenVerifier(secret, issuer).Issue(args[0], ttl, scopes...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().String("secret", os.Getenv("JWT_SECRET"), "Signing secret")
	cmd.Flags().String("issuer", envOr("JWT_ISSUER", "notifyhub"), "Token issuer")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	cmd.Flags().StringSlice("scope", nil, "Scopes to grant, e.g. "+auth.ScopePublish+" for publishers")
	return cmd
}

// newPublishCommand constructs the `publish` subcommand.
func newPublishCommand(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <recipient> <message>",
		Short: "Publish an envelope to a recipient",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, _ := cmd.Flags().GetString("type")
			subjectID, _ := cmd.Flags().GetString("subject-id")
			subjectLabel, _ := cmd.Flags().GetString("subject-label")
			id, _ := cmd.Flags().GetString("id")

			body, err := json.Marshal(map[string]string{
				"id":           id,
				"type":         typ,
				"recipient":    args[0],
				"message":      args[1],
				"subjectId":    subjectID,
				"subjectLabel": subjectLabel,
			})
			if err != nil {
				return err
			}
			resp, err := c.do(cmd.Context(), http.MethodPost, "/api/notifications", bytes.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if err := checkStatus(resp, http.StatusAccepted); err != nil {
				return err
			}
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		},
	}
	cmd.Flags().String("type", string(models.EventItemUpdated), "Event type")
	cmd.Flags().String("subject-id", "", "Subject id")
	cmd.Flags().String("subject-label", "", "Subject label")
	cmd.Flags().String("id", "", "Envelope id (generated when empty)")
	return cmd
}

// newStatusCommand constructs the `status` subcommand.
func newStatusCommand(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the instance's fan-out status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := c.do(cmd.Context(), http.MethodGet, "/api/notifications/status", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if err := checkStatus(resp, http.StatusOK); err != nil {
				return err
			}
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		},
	}
}

// newTailCommand constructs the `tail` subcommand.
func newTailCommand(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print envelopes from the token's notification stream as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lastEventID, _ := cmd.Flags().GetString("last-event-id")
			limit, _ := cmd.Flags().GetInt("limit")

			path := "/api/notifications/stream"
			if lastEventID != "" {
				path += "?lastEventId=" + url.QueryEscape(lastEventID)
			}
			resp, err := c.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if err := checkStatus(resp, http.StatusOK); err != nil {
				return err
			}

			err = tail(resp.Body, cmd.OutOrStdout(), limit)
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().String("last-event-id", "", "Resume after this envelope id")
	cmd.Flags().Int("limit", 0, "Stop after N envelopes (0 = until interrupted)")
	return cmd
}

// tail copies notification frames from an event stream to out, one
// envelope JSON per line. Handshake and keepalive frames are skipped.
func tail(r io.Reader, out io.Writer, limit int) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var event, data string
	seen := 0
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if event == "notification" && data != "" {
				if _, err := fmt.Fprintln(out, data); err != nil {
					return err
				}
				seen++
				if limit > 0 && seen >= limit {
					return nil
				}
			}
			event, data = "", ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			if data != "" {
				data += "\n"
			}
			data += value
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}
