package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/elixir-cloud-aai/foca-sub000/auth"
)

type validateFlags struct {
	methods      []string
	checks       string
	audience     []string
	allowExpired bool
	addKey       bool
}

func newValidateCommand() *cobra.Command {
	var f validateFlags

	cmd := &cobra.Command{
		Use:   "validate [token]",
		Short: "Validate a token and print its claims",
		Long: "Validate a bearer token and print the resulting claims as JSON.\n\n" +
			"The token is read from standard input when no argument is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := readToken(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			cfg := rt.env.Config()
			f.apply(cmd, &cfg)

			claims, err := rt.validator.Validate(cmd.Context(), tok, cfg)
			if err != nil {
				if errors.Is(err, auth.ErrUnauthorized) {
					return fmt.Errorf("token rejected (%s): %w", auth.KindOf(err), err)
				}
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(claims)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&f.methods, "methods", nil, "Validation methods to run: userinfo, public_key. Overrides AUTH_VALIDATION_METHODS.")
	flags.StringVar(&f.checks, "checks", "", "Aggregation policy: all or any. Overrides AUTH_VALIDATION_CHECKS.")
	flags.StringSliceVar(&f.audience, "audience", nil, "Accepted audiences. Overrides AUTH_AUDIENCE.")
	flags.BoolVar(&f.allowExpired, "allow-expired", false, "Accept tokens past their exp claim.")
	flags.BoolVar(&f.addKey, "add-key", false, "Attach the verifying key's PEM under the public_key claim.")
	return cmd
}

// apply overrides cfg with the flags the user actually set.
func (f *validateFlags) apply(cmd *cobra.Command, cfg *auth.Config) {
	flags := cmd.Flags()
	if flags.Changed("methods") {
		cfg.ValidationMethods = nil
		for _, m := range f.methods {
			cfg.ValidationMethods = append(cfg.ValidationMethods, auth.Method(m))
		}
	}
	if flags.Changed("checks") {
		cfg.ValidationChecks = auth.Checks(f.checks)
	}
	if flags.Changed("audience") {
		cfg.Audience = f.audience
	}
	if flags.Changed("allow-expired") {
		cfg.AllowExpired = f.allowExpired
	}
	if flags.Changed("add-key") {
		cfg.AddKeyToClaims = f.addKey
	}
}

func readToken(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	data, err := io.ReadAll(io.LimitReader(stdin, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", errors.New("no token given")
	}
	return tok, nil
}
