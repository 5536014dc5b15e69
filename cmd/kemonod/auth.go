package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"kemonod/pkg/auth"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the platform session cookie",
	Long: `Manage the stored platform session cookie.

The cookie is stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - KEMONOD_SESSION_COOKIE environment variable (read-only)

A session is optional; without one, only public content is available.`,
}

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the session cookie securely",
	Long: `Store the platform session cookie securely.

To get the value:
1. Log into the platform in your browser
2. Open Developer Tools (F12)
3. Go to Application/Storage > Cookies
4. Find and copy the session cookie value`,
	RunE: runAuthLogin,
}

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session",
	RunE:  runAuthStatus,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session cookie",
	RunE:  runAuthLogout,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)

	if manager.Exists() {
		fmt.Print("A session is already stored. Replace it? (y/N): ")
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("Session cookie value (hidden as you type): ")
	cookie, err := readPassword()
	if err != nil {
		return fmt.Errorf("failed to read cookie: %w", err)
	}
	fmt.Println()

	if cookie == "" {
		return fmt.Errorf("a session cookie value is required")
	}

	fmt.Print("User agent (optional, press Enter for default): ")
	userAgent, _ := reader.ReadString('\n')
	userAgent = strings.TrimSpace(userAgent)

	session := &auth.Session{
		Cookie:    cookie,
		UserAgent: userAgent,
	}

	if err := manager.Store(session); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	fmt.Println("Session stored.")
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}

	session, err := manager.Retrieve()
	if err != nil {
		fmt.Println("No session stored.")
		return nil
	}

	sanitized := auth.SanitizeSession(session)
	fmt.Printf("Cookie:   %s\n", sanitized.Cookie)
	if sanitized.UserAgent != "" {
		fmt.Printf("Agent:    %s\n", sanitized.UserAgent)
	}
	if !sanitized.LastModified.IsZero() {
		fmt.Printf("Stored:   %s\n", sanitized.LastModified.Format(time.RFC3339))
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}

	if err := manager.Delete(); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}

	fmt.Println("Session removed.")
	return nil
}

// readPassword reads a line without echoing it to the terminal.
func readPassword() (string, error) {
	data, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
