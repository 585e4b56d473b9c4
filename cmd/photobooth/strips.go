package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fpang/photobooth/internal/awsboot"
	"github.com/fpang/photobooth/internal/store"
	"github.com/spf13/cobra"
)

var stripsCmd = &cobra.Command{
	Use:   "strips",
	Short: "Look up and remove uploaded strip records",
	Long: `Strips works against the DynamoDB table named by store.table. Records in
the in-memory store live inside the serve process and are not reachable here.`,
}

var stripsShowCmd = &cobra.Command{
	Use:   "show <strip-id>",
	Short: "Print a strip record and the session that produced it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		return showStrip(cmd.Context(), cmd.OutOrStdout(), s, args[0])
	},
}

var stripsDeleteCmd = &cobra.Command{
	Use:   "delete <strip-id>",
	Short: "Remove a strip record so its retrieval link stops resolving",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		return deleteStrip(cmd.Context(), cmd.OutOrStdout(), s, args[0])
	},
}

func init() {
	stripsCmd.AddCommand(stripsShowCmd, stripsDeleteCmd)
	rootCmd.AddCommand(stripsCmd)
}

// openStore connects to the configured strip table.
func openStore(ctx context.Context) (store.Store, error) {
	cfg, clients, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Table == "" || clients == nil {
		return nil, errors.New("store.table is not set; strip records are only reachable in DynamoDB")
	}
	return awsboot.InitDynamo(clients.Config, cfg.Store.Table), nil
}

func showStrip(ctx context.Context, w io.Writer, s store.Store, id string) error {
	strip, err := s.GetStrip(ctx, id)
	if err != nil {
		return err
	}
	if strip == nil {
		return fmt.Errorf("strip not found: %s", id)
	}
	fmt.Fprintf(w, "strip    %s\n", strip.ID)
	fmt.Fprintf(w, "url      %s\n", strip.URL)
	fmt.Fprintf(w, "frame    %s\n", strip.FrameID)
	fmt.Fprintf(w, "backend  %s\n", strip.Backend)
	fmt.Fprintf(w, "size     %d bytes\n", strip.Size)
	fmt.Fprintf(w, "created  %s\n", unixTime(strip.CreatedAt))
	fmt.Fprintf(w, "expires  %s\n", unixTime(strip.ExpiresAt))

	if strip.SessionID == "" {
		return nil
	}
	sess, err := s.GetSession(ctx, strip.SessionID)
	if err != nil {
		return fmt.Errorf("session %s: %w", strip.SessionID, err)
	}
	if sess == nil {
		fmt.Fprintf(w, "session  %s (no summary)\n", strip.SessionID)
		return nil
	}
	fmt.Fprintf(w, "session  %s %s, %d photos, %d upload retries, %s\n",
		sess.ID, sess.Outcome, sess.Photos, sess.UploadRetries,
		time.Duration(sess.FinishedAt-sess.StartedAt)*time.Second)
	return nil
}

func deleteStrip(ctx context.Context, w io.Writer, s store.Store, id string) error {
	strip, err := s.GetStrip(ctx, id)
	if err != nil {
		return err
	}
	if strip == nil {
		fmt.Fprintf(w, "strip %s not found, nothing to delete\n", id)
		return nil
	}
	if err := s.DeleteStrip(ctx, id); err != nil {
		return fmt.Errorf("delete strip %s: %w", id, err)
	}
	fmt.Fprintf(w, "deleted strip %s\n", id)
	return nil
}

func unixTime(sec int64) string {
	if sec == 0 {
		return "-"
	}
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
