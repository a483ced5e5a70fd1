package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/noblelift/noblelift-client/internal/api"
	"github.com/noblelift/noblelift-client/internal/config"
	"github.com/noblelift/noblelift-client/internal/services"
	"github.com/noblelift/noblelift-client/internal/session"
)

var (
	errUsage          = errors.New("usage")
	errNotSignedIn    = errors.New("not signed in")
	errBadCredentials = errors.New("bad credentials")
	errSessionEnded   = errors.New("session ended")
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"login":    runLogin,
	"logout":   runLogout,
	"whoami":   runWhoami,
	"tasks":    runTasks,
	"vehicles": runVehicles,
	"topics":   runTopics,
	"watch":    runWatch,
}

func run(ctx context.Context, cfg config.Config, name string, args []string) error {
	switch name {
	case "help", "-h", "--help":
		fmt.Println(usage)
		return nil
	case "setup":
		return runSetup(cfg)
	}

	cmd, ok := commands[name]
	if !ok {
		return errUsage
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	unsubscribe := a.sess.Subscribe(logTransition)
	defer unsubscribe()

	a.sess.Bootstrap(ctx)
	return cmd(ctx, a, args)
}

func logTransition(s session.Snapshot) {
	ev := log.Debug().Str("state", s.State.String())
	if s.Profile != nil {
		ev = ev.Int64("userId", s.Profile.UserID)
	}
	ev.Msg("session state changed")
}

func requireSignedIn(a *app) error {
	if a.sess.State() != session.StateAuthenticated {
		return errNotSignedIn
	}
	return nil
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", os.Getenv(config.EnvEmail), "account e-mail")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if a.sess.State() == session.StateAuthenticated {
		log.Info().Msg("already signed in, signing in again")
	}

	creds, err := promptCredentials(*email)
	if err != nil {
		return err
	}

	if err := a.sess.Login(ctx, creds.Email, creds.Password); err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return errBadCredentials
		}
		return err
	}

	fmt.Println(successStyle.Render(fmt.Sprintf("✓ Signed in as user %d", a.sess.Profile().UserID)))
	return nil
}

func runLogout(ctx context.Context, a *app, _ []string) error {
	a.sess.Logout(ctx)
	fmt.Println(successStyle.Render("✓ Signed out"))
	return nil
}

func runWhoami(ctx context.Context, a *app, _ []string) error {
	if err := requireSignedIn(a); err != nil {
		return err
	}

	profile := a.sess.Profile()
	superAdmin := a.svc.Users.IsSuperAdmin(ctx, profile.UserID)
	fmt.Println(renderProfile(a.cfg.APIBaseURL, profile, superAdmin, a.gw.Tokens()))
	return nil
}

func runTasks(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("tasks", flag.ContinueOnError)
	available := fs.Bool("available", false, "list all open tasks instead of your own")
	limit := fs.Int("limit", services.DefaultListLimit, "maximum number of tasks")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := requireSignedIn(a); err != nil {
		return err
	}

	var (
		items []services.Item
		err   error
	)
	if *available {
		items, err = a.svc.Tasks.ListAvailable(ctx, *limit)
	} else {
		items, err = a.svc.Tasks.ListAssigned(ctx, a.sess.Profile().UserID, *limit)
	}
	if err != nil {
		return err
	}

	fmt.Println(renderItems(items, "title", "statusCode", "dueDate"))
	return nil
}

func runVehicles(ctx context.Context, a *app, _ []string) error {
	if err := requireSignedIn(a); err != nil {
		return err
	}
	items, err := a.svc.Vehicles.List(ctx)
	if err != nil {
		return err
	}
	fmt.Println(renderItems(items, "name", "plate", "holderId"))
	return nil
}

func runTopics(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("topics", flag.ContinueOnError)
	deleteID := fs.String("delete", "", "delete the topic with this ID")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := requireSignedIn(a); err != nil {
		return err
	}

	if *deleteID != "" {
		id, err := strconv.ParseInt(*deleteID, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid topic id %q", *deleteID)
		}
		if err := a.svc.TaskTopics.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("✓ Topic %d deleted", id)))
		return nil
	}

	items, err := a.svc.TaskTopics.List(ctx)
	if err != nil {
		return err
	}
	fmt.Println(renderItems(items, "name"))
	return nil
}

// runWatch keeps the session warm until interrupted or signed out, and
// serves the client metrics when an address is configured.
func runWatch(ctx context.Context, a *app, _ []string) error {
	if err := requireSignedIn(a); err != nil {
		return err
	}

	ended := make(chan struct{})
	var once sync.Once
	unsubscribe := a.sess.Subscribe(func(s session.Snapshot) {
		if s.State == session.StateUnauthenticated {
			once.Do(func() { close(ended) })
		}
	})
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.sess.KeepAlive(ctx, a.cfg.KeepAlive)
	})

	g.Go(func() error {
		select {
		case <-ended:
			return errSessionEnded
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if a.cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              a.cfg.MetricsAddr,
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv.Handler = mux

		g.Go(func() error {
			log.Info().Str("addr", a.cfg.MetricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info().Dur("interval", a.cfg.KeepAlive).Msg("watching session")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("shutdown complete")
		return nil
	}
	return err
}

// userMessage turns a command error into text for the terminal,
// separating bad credentials, an unreachable server and other failures.
func userMessage(err error) string {
	var (
		netErr    *api.NetworkError
		loginErr  *api.LoginFailedError
		statusErr *api.StatusError
	)

	switch {
	case errors.Is(err, errBadCredentials):
		return "Wrong e-mail or password."
	case errors.Is(err, errNotSignedIn):
		return "Not signed in. Run: noblelift-client login"
	case errors.Is(err, errSessionEnded), errors.Is(err, api.ErrUnauthorized):
		return "Your session has expired. Run: noblelift-client login"
	case errors.As(err, &netErr):
		return fmt.Sprintf("Cannot reach the server: %v", netErr.Err)
	case errors.As(err, &loginErr):
		return fmt.Sprintf("Sign-in failed (HTTP %d). Try again later.", loginErr.StatusCode)
	case errors.As(err, &statusErr):
		return fmt.Sprintf("Request failed (HTTP %d): %s %s", statusErr.StatusCode, statusErr.Method, statusErr.Path)
	default:
		return "Error: " + err.Error()
	}
}
