package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/xianwen/internal/chat"
	"github.com/ent0n29/xianwen/internal/client"
	"github.com/ent0n29/xianwen/internal/completion"
	"github.com/ent0n29/xianwen/internal/localstore"
)

type rootOptions struct {
	profilePath string
	verbose     bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "xianwen-chat",
		Short:         "Terminal client for the Xianwen chat service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVar(&opts.profilePath, "config", "", "Profile path (default ~/.xianwen/client.yaml or $XIANWEN_CLIENT_CONFIG)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose logging")

	root.AddCommand(
		newAuthCommand(opts, "register", "Create an account on the server"),
		newAuthCommand(opts, "login", "Log in and store the token in the profile"),
		newLogoutCommand(opts),
		newSendCommand(opts),
		newHistoryCommand(opts),
		newClearCommand(opts),
	)
	return root
}

func (o *rootOptions) path() string {
	if o.profilePath != "" {
		return o.profilePath
	}
	return client.ProfilePath()
}

func (o *rootOptions) load() (client.Profile, error) {
	return client.LoadProfile(o.path())
}

func newAuthCommand(opts *rootOptions, action, short string) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := opts.load()
			if err != nil {
				return err
			}
			if email == "" {
				email = profile.Email
			}
			if password == "" {
				password = os.Getenv("XIANWEN_PASSWORD")
			}
			if password == "" {
				password, err = promptLine(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
				if err != nil {
					return err
				}
			}

			api := client.NewAPI(profile.ServerURL, "", nil)
			var res client.AuthResult
			if action == "register" {
				res, err = api.Register(cmd.Context(), email, password)
			} else {
				res, err = api.Login(cmd.Context(), email, password)
			}
			if err != nil {
				return err
			}
			profile.Email = res.User.Email
			profile.Token = res.Token
			if err := client.SaveProfile(opts.path(), profile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", res.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email (defaults to the profile email)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (or $XIANWEN_PASSWORD; prompted when empty)")
	return cmd
}

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Drop the stored token and the server-side conversations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := opts.load()
			if err != nil {
				return err
			}
			if profile.Token != "" {
				if err := client.NewAPI(profile.ServerURL, profile.Token, nil).Logout(cmd.Context()); err != nil {
					slog.Warn("server logout failed", slog.Any("error", err))
				}
			}
			profile.Token = ""
			if err := client.SaveProfile(opts.path(), profile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newSendCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <prompt>",
		Short: "Send a prompt and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := opts.load()
			if err != nil {
				return err
			}
			replier, err := newReplier(profile)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), profile, replier, func(s *client.Session) error {
				reply, err := s.Submit(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return describeError(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply.Content)
				return nil
			})
		},
	}
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the conversation history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := opts.load()
			if err != nil {
				return err
			}
			var msgs []chat.Message
			if remote {
				msgs, err = client.NewAPI(profile.ServerURL, profile.Token, nil).History(cmd.Context(), profile.ConversationID)
				if err != nil {
					return err
				}
			} else {
				err = withSession(cmd.Context(), profile, nil, func(s *client.Session) error {
					msgs = s.Messages()
					return nil
				})
				if err != nil {
					return err
				}
			}
			renderHistory(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "Read the server-side conversation instead of the local one")
	return cmd
}

func newClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the local history (and the server conversation in server mode)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := opts.load()
			if err != nil {
				return err
			}
			if profile.Mode == client.ModeServer && profile.Token != "" {
				if err := client.NewAPI(profile.ServerURL, profile.Token, nil).Clear(cmd.Context(), profile.ConversationID); err != nil {
					return err
				}
			}
			err = withSession(cmd.Context(), profile, nil, func(s *client.Session) error {
				return s.Clear(cmd.Context())
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Chat history cleared")
			return nil
		},
	}
}

func newReplier(profile client.Profile) (client.Replier, error) {
	if profile.Mode == client.ModeDirect {
		baseURL := profile.DirectBaseURL
		if baseURL == "" {
			baseURL = os.Getenv("COMPLETION_BASE_URL")
		}
		c := completion.New(completion.Config{
			BaseURL: baseURL,
			APIKey:  os.Getenv(profile.DirectKeyEnv),
			Model:   profile.DirectModel,
		}, completion.WithLogger(slog.Default()))
		return client.DirectReplier{Completer: c}, nil
	}
	if profile.Token == "" {
		return nil, fmt.Errorf("not logged in; run xianwen-chat login first")
	}
	return client.ServerReplier{
		API:            client.NewAPI(profile.ServerURL, profile.Token, nil),
		ConversationID: profile.ConversationID,
	}, nil
}

func withSession(ctx context.Context, profile client.Profile, replier client.Replier, fn func(*client.Session) error) error {
	store, err := localstore.Open(ctx, profile.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()
	s, err := client.NewSession(ctx, store, replier, profile.MaxTurns, slog.Default())
	if err != nil {
		return err
	}
	return fn(s)
}

func describeError(err error) error {
	switch completion.Kind(err) {
	case completion.KindConfiguration:
		return fmt.Errorf("completion endpoint is not configured: %w", err)
	case completion.KindNetwork:
		return fmt.Errorf("network problem, try again: %w", err)
	default:
		return err
	}
}

func renderHistory(w io.Writer, msgs []chat.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "(no messages)")
		return
	}
	for _, m := range msgs {
		marker := ""
		if m.Status == chat.StatusError {
			marker = " [failed]"
		}
		fmt.Fprintf(w, "%s %-9s%s %s\n", m.Timestamp.Local().Format("15:04"), m.Role+":", marker, m.Content)
	}
}

func promptLine(in io.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
