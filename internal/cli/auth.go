package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sonar/internal/validate"
)

type LoginOptions struct {
	*RootOptions
	Email         string
	PasswordStdin bool
}

func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and keep the session on this device",
		Long: `Sign in with email and password. The password is read from
SONAR_PASSWORD or, with --password-stdin, from the first line of stdin.

Example:
  echo "$PASS" | sonar login --email admin@sonar.test --password-stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, ok := validate.Email(opts.Email)
			if !ok {
				return NewExitError(ExitCommandError, "invalid email")
			}
			pass, err := opts.password(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *App, p *Printer) error {
				u, err := a.Auth.SignIn(ctx, email, pass)
				if err != nil {
					return err
				}
				return p.Success(u, func(w io.Writer) error {
					_, err := io.WriteString(w, "signed in as ")
					if err != nil {
						return err
					}
					return writeUser(w, u)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "account email (required)")
	cmd.Flags().BoolVar(&opts.PasswordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func (o *LoginOptions) password(stdin io.Reader) (string, error) {
	pass := os.Getenv("SONAR_PASSWORD")
	if o.PasswordStdin {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", WrapExitError(ExitCommandError, "failed to read password", err)
		}
		pass = strings.TrimRight(line, "\r\n")
	}
	if !validate.Password(pass) {
		return "", NewExitError(ExitCommandError, "password must be 6 to 72 characters")
	}
	return pass, nil
}

func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget it on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *App, p *Printer) error {
				if err := a.Auth.SignOut(ctx); err != nil {
					return err
				}
				return p.Success(nil, func(w io.Writer) error {
					_, err := io.WriteString(w, "signed out\n")
					return err
				})
			})
		},
	}
}

func NewWhoamiCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *App, p *Printer) error {
				u, err := a.Auth.CurrentUser(ctx)
				if err != nil {
					return err
				}
				if u == nil {
					return NewExitError(ExitCommandError, "not signed in")
				}
				return p.Success(u, func(w io.Writer) error { return writeUser(w, u) })
			})
		},
	}
}
