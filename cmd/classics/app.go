package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/jrsteele09/classics-portal/articles"
	"github.com/jrsteele09/classics-portal/backend"
	"github.com/jrsteele09/classics-portal/backend/oidcrefresh"
	"github.com/jrsteele09/classics-portal/internal/config"
	"github.com/jrsteele09/classics-portal/internal/errors"
	"github.com/jrsteele09/classics-portal/sessions"
	"github.com/jrsteele09/classics-portal/token"
	"github.com/jrsteele09/classics-portal/token/filerepo"
	"github.com/jrsteele09/classics-portal/token/redisrepo"
	tokenfakerepo "github.com/jrsteele09/classics-portal/token/repofake"
	"github.com/redis/go-redis/v9"
)

var errUsage = errors.New("usage")

type app struct {
	stdout io.Writer
	stderr io.Writer

	store     *token.Store
	validator *token.Validator
	state     *sessions.State
	articles  *articles.Store
	closers   []func()
}

func newApp(c config.Config, stdout, stderr io.Writer) (*app, error) {
	a := &app{stdout: stdout, stderr: stderr}

	repo, err := a.newTokenRepo(c)
	if err != nil {
		return nil, err
	}
	a.store = token.NewStore(repo)

	client, err := backend.NewClient(c.GetAPIURL(), backend.WithTimeout(c.GetBackendTimeout()))
	if err != nil {
		return nil, err
	}
	a.validator = token.NewValidator(client, token.WithMargin(c.GetRefreshMargin()))

	var refreshBackend sessions.RefreshBackend = client
	if issuer := c.GetOIDCIssuer(); issuer != "" {
		oidcBackend, err := oidcrefresh.New(oidcrefresh.Config{
			Issuer:       issuer,
			ClientID:     c.GetOIDCClientID(),
			ClientSecret: c.GetOIDCClientSecret(),
			HTTPClient:   &http.Client{Timeout: c.GetBackendTimeout()},
		})
		if err != nil {
			return nil, err
		}
		refreshBackend = oidcBackend
	}

	refresher := sessions.NewRefresher(a.store, a.validator, refreshBackend, sessions.WithTimeout(c.GetBackendTimeout()))
	requester := sessions.NewRequester(refresher, a.store, sessions.WithHTTPClient(&http.Client{Timeout: c.GetBackendTimeout()}))
	a.state = sessions.NewState(a.store, refresher, a.validator, client)
	a.closers = append(a.closers, a.state.Close)
	a.articles = articles.NewStore(articles.NewService(requester, client.Endpoint(backend.PathRead)))

	unsubscribe := a.state.Subscribe(func(ev sessions.Event) {
		if ev.Kind == sessions.EventSessionInvalidated && errors.Is(ev.Reason, errors.ErrSessionExpired) {
			fmt.Fprintln(a.stderr, "session expired, please log in again")
		}
	})
	a.closers = append(a.closers, unsubscribe)
	return a, nil
}

func (a *app) newTokenRepo(c config.Config) (token.Repo, error) {
	switch c.GetTokenStore() {
	case config.TokenStoreMemory:
		return tokenfakerepo.NewFakeTokenRepo(), nil
	case config.TokenStoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: c.GetRedisAddr()})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		return redisrepo.New(rdb, redisrepo.WithKeyPrefix(c.GetRedisPrefix()))
	case config.TokenStoreFile:
		return filerepo.New(c.GetTokenFile(), filerepo.WithPassphrase(c.GetTokenFileKey()))
	default:
		return nil, fmt.Errorf("unknown TOKEN_STORE %q", c.GetTokenStore())
	}
}

func (a *app) close() {
	closers := a.closers
	a.closers = nil
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "status":
		return a.status(ctx, args)
	case "read":
		return a.read(ctx, args)
	default:
		return errUsage
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	username := fs.String("username", os.Getenv("CLASSICS_USERNAME"), "account name")
	password := fs.String("password", "", "password (default $CLASSICS_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *password == "" {
		*password = os.Getenv("CLASSICS_PASSWORD")
	}
	if *username == "" || *password == "" {
		return fmt.Errorf("username and password are required")
	}

	if err := a.state.Login(ctx, *username, *password); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "logged in as %s\n", a.state.Status().Username)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.state.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "logged out")
	return nil
}

func (a *app) status(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	remote := fs.Bool("remote", false, "ask the server whether the access token is accepted")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if err := a.initialize(ctx); err != nil {
		return err
	}

	st := a.state.Status()
	if !st.IsLoggedIn {
		fmt.Fprintln(a.stdout, "not logged in")
		return nil
	}
	fmt.Fprintf(a.stdout, "logged in as %s (permission %d)\n", st.Username, st.Permission)

	access, err := a.store.Get(ctx, token.Access)
	if err != nil {
		return err
	}
	if expiry := a.validator.ExpiryOf(access); !expiry.IsZero() {
		fmt.Fprintf(a.stdout, "access token expires %s\n", expiry.Local().Format("2006-01-02 15:04:05"))
	}
	if *remote {
		fmt.Fprintf(a.stdout, "server accepts access token: %t\n", a.validator.Validate(ctx, access))
	}
	return nil
}

func (a *app) read(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	all := fs.Bool("all", false, "include hidden lines")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if err := a.initialize(ctx); err != nil {
		return err
	}
	if err := a.articles.Load(ctx); err != nil {
		return err
	}

	list := a.articles.Visible()
	if *all {
		list = a.articles.Articles()
	}
	if *asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	for _, article := range list {
		fmt.Fprintf(a.stdout, "%s\n  %s (%s)\n", article.Line, article.Contrib, article.Time)
	}
	return nil
}

// initialize restores the stored session and waits for any refresh it started.
func (a *app) initialize(ctx context.Context) error {
	if err := a.state.Initialize(ctx); err != nil {
		return err
	}
	a.state.Wait()
	return nil
}
