package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the Booktu API",
	Long:  `Login opens a session and stores its token for later commands.`,
	Example: `  booktu login --login clerk
  booktu login --login clerk --password secret`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Auth.Logout(); err != nil {
			printError("Logout failed: %v", err)
			return err
		}
		report(map[string]interface{}{"success": true}, func() {
			printSuccess("Logged out")
		})
		return nil
	},
}

var (
	loginName     string
	loginPassword string
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)

	loginCmd.Flags().StringVarP(&loginName, "login", "l", "",
		"Account login (default: auth.login from config)")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "",
		"Password (will prompt if not provided)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := commandContext()

	if loginName == "" {
		loginName = cfg.Auth.Login
	}
	if loginName == "" {
		return fmt.Errorf("--login is required")
	}

	if loginPassword == "" {
		loginPassword = cfg.Auth.Password
	}
	if loginPassword == "" {
		var err error
		loginPassword, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
	}

	if err := apiClient.Auth.Login(ctx, loginName, loginPassword); err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		} else {
			printError("Login failed: %v", err)
		}
		return err
	}

	report(map[string]interface{}{
		"success": true,
		"login":   loginName,
	}, func() {
		printSuccess("Logged in as %s", loginName)
	})
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}
