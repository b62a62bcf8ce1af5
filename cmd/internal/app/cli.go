package app

import (
	"errors"
	"fmt"
	"io"
	"time"

	"tuthub/cmd/internal/auth/session"
	"tuthub/cmd/internal/realtime"
	v1 "tuthub/contracts/chat/v1"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// RootOptions holds state shared by all commands.
type RootOptions struct {
	Config Config
	Log    Logger
}

// NewRootCommand creates the root command for the tuthub CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "tuthub",
		Short:         "tuthub direct-message chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			opts.Config = cfg
			opts.Log = NewLogger(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewKeygenCommand())

	return cmd
}

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var addr, store string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Long: `Run the HTTP server exposing GET /chat/{peer} (WebSocket),
GET /chat/{peer}/history, /healthz, /readyz and /metrics.

Example:
  tuthub serve --addr 127.0.0.1:8080 --store badger`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.Config
			if cmd.Flags().Changed("addr") {
				cfg.HTTPAddr = addr
			}
			if cmd.Flags().Changed("store") {
				cfg.Store = store
			}

			a, err := New(cmd.Context(), cfg, opts.Log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			return a.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides TUTHUB_HTTP_ADDR)")
	cmd.Flags().StringVar(&store, "store", "", "message store: memory|postgres|badger (overrides TUTHUB_STORE)")

	return cmd
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <userA> <userB>",
		Short: "Print the stored conversation between two users",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := New(cmd.Context(), opts.Config, opts.Log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			userA, err := a.resolver.Resolve(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("resolve %q: %w", args[0], err)
			}
			userB, err := a.resolver.Resolve(cmd.Context(), args[1])
			if err != nil {
				return fmt.Errorf("resolve %q: %w", args[1], err)
			}

			msgs, err := a.store.ListByRoom(cmd.Context(), userA.ID, userB.ID)
			if err != nil {
				return err
			}
			renderHistory(cmd.OutOrStdout(), realtime.Deliveries(msgs))
			return nil
		},
	}
}

// NewTokenCommand creates the token command.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user (requires the secret key)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := New(cmd.Context(), opts.Config, opts.Log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			u, err := a.resolver.Resolve(cmd.Context(), user)
			if err != nil {
				return fmt.Errorf("resolve %q: %w", user, err)
			}

			tok, exp, err := a.tokens.Issue(u.ID, time.Now().UTC())
			if errors.Is(err, session.ErrCannotIssue) {
				return fmt.Errorf("token: TUTHUB_PASETO_SECRET_KEY_HEX is not set")
			}
			if err != nil {
				return err
			}

			opts.Log.Info("token.issued", "user_id", u.ID, "expires_at", exp)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user id or username")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// NewKeygenCommand creates the keygen command. It needs no configuration.
func NewKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "keygen",
		Short:             "Generate a PASETO v4.public key pair",
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, public := session.GenerateKeyPairHex()
			_, err := fmt.Fprintf(cmd.OutOrStdout(),
				"TUTHUB_PASETO_SECRET_KEY_HEX=%s\nTUTHUB_PASETO_PUBLIC_KEY_HEX=%s\n", secret, public)
			return err
		},
	}
}

func renderHistory(w io.Writer, deliveries []v1.Delivery) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Timestamp", "Sender", "Receiver", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, d := range deliveries {
		table.Append([]string{d.Timestamp, d.Sender, d.Receiver, d.Content})
	}
	table.Render()
}
