package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/jobcheck/internal/auth"
)

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in and store the access token",
	Long:  "Log in with your account. The password is read from stdin.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if isTerminal(os.Stdin) {
			fmt.Fprint(os.Stderr, "Password: ")
		}
		password, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && password == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(password, "\r\n")
		if password == "" {
			return errors.New("password is empty")
		}

		tok, err := auth.Login(cmd.Context(), cfg.Backend.BaseURL, cfg.Backend.TokenPath, cfg.Auth.ClientID,
			args[0], password, cfg.Backend.RequestTimeout.Std())
		if err != nil {
			return err
		}

		store := tokenStore()
		if err := store.Save(tok); err != nil {
			return err
		}
		logger.Info("Logged in", "user", args[0])
		fmt.Printf("Logged in as %s\n", args[0])
		if store.FromEnv() {
			fmt.Printf("Note: %s is set and takes precedence over the saved token.\n", cfg.Auth.TokenEnv)
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := tokenStore().Clear(); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		printCredential(tokenStore())
		return nil
	},
}

func printCredential(store *auth.Store) {
	tok, err := store.Token()
	if err != nil {
		fmt.Println("  Not logged in")
		return
	}

	source := "saved token"
	if store.FromEnv() {
		source = "$" + cfg.Auth.TokenEnv
	}

	claims, err := auth.Inspect(tok.AccessToken)
	if err != nil {
		fmt.Printf("  Token from %s (opaque)\n", source)
		return
	}
	if claims.Subject != "" {
		fmt.Printf("  User: %s\n", claims.Subject)
	}
	fmt.Printf("  Source: %s\n", source)
	switch {
	case claims.ExpiresAt.IsZero():
		fmt.Println("  Expires: never")
	case claims.ExpiresAt.Before(time.Now()):
		fmt.Printf("  Expired: %s (run 'jobcheck login')\n", claims.ExpiresAt.Local().Format("2006-01-02 15:04"))
	default:
		fmt.Printf("  Expires: %s\n", claims.ExpiresAt.Local().Format("2006-01-02 15:04"))
	}
}
