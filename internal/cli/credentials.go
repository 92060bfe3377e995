package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-edu/mind-insights/internal/dashboard"
	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/rbac"
)

func newHashPasswordCommand(env Env) *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the bcrypt hash of a password for the credentials file",
		Long: `Print the bcrypt hash of a password for the password_hash field of the
credentials file. The password is read from stdin when no argument is given.

Examples:
  mindctl hash-password 's3cret!'
  echo 's3cret!' | mindctl hash-password`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(env.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password must not be empty")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func newCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var plaintext bool
	credentials := &cobra.Command{
		Use:   "credentials FILE",
		Short: "Validate a credentials file against the role table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := identity.LoadFile(args[0], identity.LoadOptions{AllowPlaintext: plaintext})
			if err != nil {
				return err
			}
			if err := rbac.DefaultService().Validate(store.Roles()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ident := range store.Identities() {
				fmt.Fprintf(out, "%-32s %-10s departments=%s cohorts=%s", ident.Key, ident.Role,
					strings.Join(ident.Departments, ","), strings.Join(ident.Cohorts, ","))
				if ident.LearnerID != "" {
					fmt.Fprintf(out, " learner=%s", ident.LearnerID)
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "%d identities ok\n", len(store.Identities()))
			return nil
		},
	}
	credentials.Flags().BoolVar(&plaintext, "allow-plaintext", false, "accept plaintext password entries")

	pages := &cobra.Command{
		Use:   "pages FILE",
		Short: "Validate a page layout file against the widget catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := dashboard.LoadLayoutFile(args[0], dashboard.DefaultCatalog())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, page := range layout.Pages {
				fmt.Fprintf(out, "%-10s %d tabs, %d widgets\n", page.Name, len(page.Tabs), len(page.WidgetIDs()))
			}
			return nil
		},
	}

	cmd.AddCommand(credentials, pages)
	return cmd
}
