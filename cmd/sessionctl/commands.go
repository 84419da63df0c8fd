package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
	"taeu.kr/sessionkeeper/internal/session"
	"taeu.kr/sessionkeeper/internal/status"
)

type commandFunc func(ctx context.Context, a *app, args []string, stdout io.Writer) error

var commands = map[string]commandFunc{
	"status":    runStatus,
	"bootstrap": runBootstrap,
	"renew":     runRenew,
	"logout":    runLogout,
	"login":     runLogin,
	"remember":  runRemember,
	"watch":     runWatch,
	"get":       runGet,
}

type statusOutput struct {
	Instance string           `yaml:"instance"`
	Remember string           `yaml:"remember"`
	Sessions []session.Status `yaml:"sessions"`
}

func runStatus(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	if len(args) != 0 {
		return errors.New("status takes no arguments")
	}

	remember, set, err := a.manager.Remember(ctx)
	if err != nil {
		return err
	}
	out := statusOutput{
		Instance: a.manager.Broadcaster().InstanceID(),
		Remember: "unset",
	}
	if set {
		out.Remember = onOff(remember)
	}
	for _, p := range session.Principals {
		s, _ := a.manager.Session(p)
		out.Sessions = append(out.Sessions, s.Status(ctx))
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}

// principalFlags parses the -principal flag shared by most commands.
func principalFlags(name string, args []string, extra func(fs *flag.FlagSet)) (*flag.FlagSet, func(*app) (*session.Session, error), error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	principal := fs.String("principal", string(session.PrincipalUser), "principal (user or admin)")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	resolve := func(a *app) (*session.Session, error) {
		p, err := session.ParsePrincipal(strings.TrimSpace(*principal))
		if err != nil {
			return nil, err
		}
		return a.manager.Session(p)
	}
	return fs, resolve, nil
}

func runBootstrap(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	_, resolve, err := principalFlags("bootstrap", args, nil)
	if err != nil {
		return err
	}
	s, err := resolve(a)
	if err != nil {
		return err
	}

	if !s.Bootstrap(ctx) {
		fmt.Fprintf(stdout, "%s: not restored\n", s.Principal())
		return fmt.Errorf("%w: %s session could not be restored", errFailed, s.Principal())
	}
	fmt.Fprintf(stdout, "%s: restored\n", s.Principal())
	return nil
}

func runRenew(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	_, resolve, err := principalFlags("renew", args, nil)
	if err != nil {
		return err
	}
	s, err := resolve(a)
	if err != nil {
		return err
	}

	if !s.Renew(ctx) {
		fmt.Fprintf(stdout, "%s: renewal failed\n", s.Principal())
		return fmt.Errorf("%w: %s renewal failed", errFailed, s.Principal())
	}
	fmt.Fprintf(stdout, "%s: renewed\n", s.Principal())
	return nil
}

func runLogout(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	_, resolve, err := principalFlags("logout", args, nil)
	if err != nil {
		return err
	}
	s, err := resolve(a)
	if err != nil {
		return err
	}

	if err := s.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: logged out\n", s.Principal())
	return nil
}

func runLogin(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	var access, refresh string
	var remember bool
	fs, resolve, err := principalFlags("login", args, func(fs *flag.FlagSet) {
		fs.StringVar(&access, "access", "", "access token")
		fs.StringVar(&refresh, "refresh", "", "refresh token")
		fs.BoolVar(&remember, "remember", false, "keep the user session across restarts")
	})
	if err != nil {
		return err
	}
	s, err := resolve(a)
	if err != nil {
		return err
	}

	rememberSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "remember" {
			rememberSet = true
		}
	})
	if rememberSet && s.Principal() == session.PrincipalUser {
		if err := a.manager.SetRemember(ctx, remember); err != nil {
			return err
		}
	}

	if err := s.SetPair(ctx, session.Pair{AccessToken: access, RefreshToken: refresh}); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: credentials stored (%s)\n", s.Principal(), s.Store().Tier(ctx))
	return nil
}

func runRemember(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: remember on|off")
	}

	var remember bool
	switch strings.ToLower(args[0]) {
	case "on", "true":
		remember = true
	case "off", "false":
	default:
		return fmt.Errorf("remember expects on or off, got %q", args[0])
	}

	if err := a.manager.SetRemember(ctx, remember); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "remember: %s\n", onOff(remember))
	return nil
}

// runWatch keeps this instance alive: it follows logout broadcasts, renews
// sessions ahead of expiry and serves metrics and status on metrics.addr.
func runWatch(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	autoRenew := fs.Bool("renew", true, "renew sessions ahead of expiry")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a.manager.OnExternalLogout(func() {
		fmt.Fprintln(stdout, "logged out by another instance")
	})

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.manager.Run(ctx); err != nil {
			errs <- fmt.Errorf("logout watcher: %w", err)
		}
	}()

	if *autoRenew {
		for _, p := range session.Principals {
			s, _ := a.manager.Session(p)
			if !s.Bootstrap(ctx) {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.AutoRenew(ctx, session.Backoff{}); err != nil {
					log.Info().Str("principal", string(p)).Err(err).Msg("[Main] auto renewal stopped")
				}
			}()
		}
	}

	if addr := a.conf.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		status.NewHandler(a.db, a.manager).RegisterRoutes(mux)

		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("addr", addr).Msg("[Main] serving metrics and status")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Fprintln(stdout, "watching, press Ctrl+C to stop")
	select {
	case <-ctx.Done():
	case err := <-errs:
		return err
	}
	wg.Wait()
	return nil
}

func runGet(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs, resolve, err := principalFlags("get", args, nil)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: get -principal p URL")
	}
	s, err := resolve(a)
	if err != nil {
		return err
	}

	client := &http.Client{
		Transport: &session.Transport{Session: s},
		Timeout:   a.conf.Identity.Timeout,
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fs.Arg(0), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(stdout, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %s answered %s", errFailed, fs.Arg(0), resp.Status)
	}
	return nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
