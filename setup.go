package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/go-resty/resty/v2"
	"golang.org/x/term"

	"github.com/noblelift/noblelift-client/internal/config"
)

// isInteractiveTerminal returns true if both stdin and stdout are TTYs.
func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// runSetup asks for the API address, generates a token encryption key if
// none exists yet and writes both to config.env.
func runSetup(cfg config.Config) error {
	if !isInteractiveTerminal() {
		return fmt.Errorf("setup needs an interactive terminal; set %s and %s in %s instead",
			config.EnvAPIBaseURL, config.EnvTokenKey, config.ConfigPath(config.EnvFileName))
	}

	fmt.Println()
	fmt.Println(titleStyle.Render("Noblelift client setup"))
	fmt.Println()

	baseURL := cfg.APIBaseURL
	email := os.Getenv(config.EnvEmail)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API base URL").
				Description("Address of the Noblelift API, including /api/v1").
				Value(&baseURL).
				Validate(validateAPIBaseURL),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("E-mail (optional)").
				Description("Prefilled when signing in").
				Value(&email),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\nSetup cancelled.")
			return nil
		}
		return err
	}

	tokenKey := cfg.TokenKey
	if tokenKey == "" {
		tokenKey = generateTokenKey()
	}

	values := map[string]string{
		config.EnvAPIBaseURL: strings.TrimSpace(baseURL),
		config.EnvTokenKey:   tokenKey,
	}
	if email = strings.TrimSpace(email); email != "" {
		values[config.EnvEmail] = email
	}

	if err := config.EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	configPath := config.ConfigPath(config.EnvFileName)
	if err := writeEnvFile(configPath, values); err != nil {
		return fmt.Errorf("error saving configuration: %w", err)
	}

	fmt.Println()
	fmt.Println(successStyle.Render("✓ Configuration saved"))
	fmt.Println(pathStyle.Render("  " + configPath))
	fmt.Println()
	fmt.Println("Sign in with: noblelift-client login")
	return nil
}

// validateAPIBaseURL checks the address and that something answers there.
// Any HTTP response counts as reachable.
func validateAPIBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}

	_, err = resty.New().
		SetTimeout(10 * time.Second).
		R().
		Get(u.String())
	if err != nil {
		return errors.New("connection failed - check the address")
	}
	return nil
}

func generateTokenKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based if crypto/rand fails (unlikely)
		return fmt.Sprintf("noblelift-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}

// envFileOrder is the order variables are written to config.env.
var envFileOrder = []string{config.EnvAPIBaseURL, config.EnvTokenKey, config.EnvEmail}

// writeEnvFile writes values to path with owner-only permissions since the
// file holds the token key.
func writeEnvFile(path string, values map[string]string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	for _, key := range envFileOrder {
		if val, ok := values[key]; ok {
			if _, err := fmt.Fprintf(f, "%s=%q\n", key, val); err != nil {
				return fmt.Errorf("failed to write %s: %w", key, err)
			}
		}
	}
	return nil
}

type credentials struct {
	Email    string
	Password string
}

// promptCredentials asks for e-mail and password. On a terminal it shows a
// form with a masked password field; otherwise the password is read from
// the first line of stdin and the e-mail must be given up front.
func promptCredentials(email string) (credentials, error) {
	if !isInteractiveTerminal() {
		return readCredentials(email, os.Stdin)
	}

	creds := credentials{Email: email}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("E-mail").
				Value(&creds.Email).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("e-mail is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&creds.Password).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("password is required")
					}
					return nil
				}),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.Run(); err != nil {
		return credentials{}, err
	}
	creds.Email = strings.TrimSpace(creds.Email)
	return creds, nil
}

func readCredentials(email string, r io.Reader) (credentials, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return credentials{}, fmt.Errorf("no terminal: pass -email or set %s", config.EnvEmail)
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return credentials{}, fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return credentials{}, errors.New("no password on stdin")
	}
	return credentials{Email: email, Password: password}, nil
}

// waitOnWindows pauses execution on Windows so users can see error messages
// before the console window closes.
func waitOnWindows() {
	if runtime.GOOS == "windows" && isInteractiveTerminal() {
		fmt.Println()
		fmt.Println("Press Enter to exit...")
		fmt.Scanln()
	}
}
