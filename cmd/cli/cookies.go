package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tiktok-extractor/internal/auth"
	"tiktok-extractor/internal/cookie"
	"tiktok-extractor/pkg/models"
)

var cookiePlatform string

var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "Inspect the cookies a platform client sends",
}

var showCookiesCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the Cookie header sent to each host",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		jar, err := platformCookies(a.Registry.Cookies, cookiePlatform)
		if err != nil {
			return err
		}

		hosts := jar.Hosts()
		if len(hosts) == 0 {
			fmt.Println("No cookies configured")
			return nil
		}
		fmt.Printf("🍪 Cookies for %s\n", cookiePlatform)
		for _, host := range hosts {
			fmt.Printf("   %s: %s\n", host, jar.HeaderFor(host))
		}
		return nil
	},
}

var exportCookiesCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the configured cookies to a JSON cookie file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		jar, err := platformCookies(a.Registry.Cookies, cookiePlatform)
		if err != nil {
			return err
		}
		if err := jar.SaveCookiesToFile(args[0]); err != nil {
			return err
		}
		fmt.Printf("✅ Cookies for %d hosts written to %s\n", len(jar.Hosts()), args[0])
		return nil
	},
}

func platformCookies(lookup func(models.Platform) *cookie.Manager, name string) (*cookie.Manager, error) {
	jar := lookup(models.Platform(name))
	if jar == nil {
		return nil, fmt.Errorf("platform %q is not enabled", name)
	}
	return jar, nil
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "API server authentication",
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [key]",
	Short: "Hash an API key for auth.api_keys",
	Long: `Hash an API key for the auth.api_keys setting. Without an argument the
key is read from the terminal without echo.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			fmt.Fprint(os.Stderr, "API key: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("error reading key: %w", err)
			}
			key = strings.TrimSpace(string(raw))
		}

		hashed, err := auth.HashKey(key)
		if err != nil {
			return err
		}
		fmt.Println(hashed)
		return nil
	},
}

func init() {
	cookiesCmd.PersistentFlags().StringVarP(&cookiePlatform, "platform", "p", string(models.PlatformTikTok), "tiktok or douyin")
	cookiesCmd.AddCommand(showCookiesCmd)
	cookiesCmd.AddCommand(exportCookiesCmd)
	rootCmd.AddCommand(cookiesCmd)

	authCmd.AddCommand(hashKeyCmd)
	rootCmd.AddCommand(authCmd)
}
