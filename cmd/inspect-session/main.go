// Command inspect-session prints the token pair stored by noblelift-client
// (masked) and optionally checks it against the identity endpoint. It never
// refreshes or clears the stored tokens.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/noblelift/noblelift-client/internal/api"
	"github.com/noblelift/noblelift-client/internal/auth"
	"github.com/noblelift/noblelift-client/internal/config"
	"github.com/noblelift/noblelift-client/internal/storage"
	"github.com/noblelift/noblelift-client/internal/tokenstore"
)

func main() {
	config.LoadEnvFile()
	cfg := config.Load()

	dbPath := flag.String("db", cfg.DBPath, "Path to the session database")
	probe := flag.Bool("probe", false, "Call the identity endpoint with the stored access token (no refresh, stored tokens are left as they are)")
	flag.Parse()

	if cfg.TokenKey == "" {
		fmt.Fprintf(os.Stderr, "%s is not set\n", config.EnvTokenKey)
		os.Exit(1)
	}

	key, err := storage.DeriveKey(cfg.TokenKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	backend, err := storage.NewSQLiteStore(*dbPath, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer backend.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tokens := tokenstore.New(backend)
	tokens.Initialize(ctx)

	pair, ok := auth.Parse(tokens.ReadSync())
	if !ok {
		fmt.Println("No stored session")
		return
	}

	fmt.Printf("Database:      %s\n", *dbPath)
	fmt.Printf("Access token:  %s\n", mask(pair.AccessToken))
	fmt.Printf("Refresh token: %s\n", mask(pair.RefreshToken))
	printExpiry("Access", pair.AccessToken)
	printExpiry("Refresh", pair.RefreshToken)

	if !*probe {
		return
	}

	res, err := probeProfile(ctx, cfg.APIBaseURL, cfg.Timeout, pair.AccessToken)
	if err != nil {
		fmt.Printf("\nGET %s failed: %v\n", api.DefaultProfilePath, err)
		os.Exit(1)
	}
	fmt.Printf("\nGET %s: %s\n%s\n", api.DefaultProfilePath, res.Status(), res.String())
	if !res.IsSuccess() {
		os.Exit(1)
	}
}

// probeProfile sends a single request to the identity endpoint with access.
// Unlike the gateway it does not react to 401, so an expired token is
// reported rather than refreshed or cleared.
func probeProfile(ctx context.Context, baseURL string, timeout time.Duration, access string) (*resty.Response, error) {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		R().
		SetContext(ctx).
		SetAuthToken(access).
		SetHeader("Accept", "application/json").
		Get(api.DefaultProfilePath)
}

func printExpiry(label, token string) {
	info, ok := auth.Inspect(token)
	if !ok || info.ExpiresAt.IsZero() {
		return
	}
	state := "valid"
	if info.Expired(time.Now()) {
		state = "expired"
	}
	fmt.Printf("%s expires: %s (%s)\n", label, info.ExpiresAt.Local().Format(time.RFC1123), state)
}

// mask keeps the first and last four characters of a token.
func mask(token string) string {
	switch {
	case token == "":
		return "(none)"
	case len(token) <= 12:
		return "***"
	default:
		return token[:4] + "..." + token[len(token)-4:]
	}
}
