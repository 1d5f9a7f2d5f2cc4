// Package main provides a small operator CLI for the animal care chat server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ashureev/animalcare/internal/agent"
	"github.com/ashureev/animalcare/internal/identity"
	"github.com/ashureev/animalcare/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Share the server's .env so PORT and DB_PATH defaults line up.
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "animalcarectl",
		Short:         "Talk to the animal care chat server and inspect stored sessions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.AddCommand(newChatCmd(), newHistoryCmd())
	return rootCmd
}

func newChatCmd() *cobra.Command {
	var (
		server    string
		sessionID string
		userID    string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one message to the chat endpoint",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := sendChat(ctx, http.DefaultClient, server, agent.ChatRequest{
				Message:   strings.Join(args, " "),
				SessionID: sessionID,
				UserID:    userID,
			})
			if err != nil {
				return err
			}
			return printChat(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:"+envOr("PORT", "8080"), "chat server base URL")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to continue")
	cmd.Flags().StringVar(&userID, "user", "", "user id sent in "+identity.UserHeaderName)
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")
	return cmd
}

func sendChat(ctx context.Context, client *http.Client, server string, req agent.ChatRequest) (*agent.ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/api/agent/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.UserID != "" {
		httpReq.Header.Set(identity.UserHeaderName, req.UserID)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", httpResp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var resp agent.ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func printChat(w io.Writer, resp *agent.ChatResponse) error {
	fmt.Fprintf(w, "[%s %.2f] %s\n", resp.Agent, resp.Confidence, resp.Response)
	for _, a := range resp.Actions {
		fmt.Fprintf(w, "  -> %s\n", a.Label)
	}
	for _, c := range resp.ToolCalls {
		status := "ok"
		if c.Failed() {
			status = "error: " + c.Err
		}
		fmt.Fprintf(w, "  tool %s: %s\n", c.Kind(), status)
	}
	_, err := fmt.Fprintf(w, "session: %s\n", resp.SessionID)
	return err
}

func newHistoryCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Print the stored history of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := store.NewSQLite(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()
			return printHistory(cmd.Context(), cmd.OutOrStdout(), repo, args[0], limit)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", envOr("DB_PATH", "./data/animalcare.db"), "conversation database path")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of turns to show")
	return cmd
}

func printHistory(ctx context.Context, w io.Writer, repo store.Repository, sessionID string, limit int) error {
	session, err := repo.GetSession(ctx, sessionID, limit)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("session %q not found", sessionID)
	}

	fmt.Fprintf(w, "session %s (user %q, last intent %q, updated %s)\n",
		session.SessionID, session.UserID, session.LastIntent, session.UpdatedAt.Format(time.RFC3339))
	for _, t := range session.History.Turns() {
		fmt.Fprintf(w, "%s  %-9s %s\n", t.Timestamp.Format("15:04:05"), t.Role, t.Content)
	}
	return nil
}
