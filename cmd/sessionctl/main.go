package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

var goEnv = "development"

// errFailed reports an operation that ran but did not succeed, such as a
// renewal the identity provider refused.
var errFailed = errors.New("operation failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	case errors.Is(err, errFailed):
		fmt.Fprintf(os.Stderr, "[sessionctl] %v\n", err)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "[sessionctl] failed: %v\n", err)
		os.Exit(2)
	}
}

type globalArgs struct {
	env       string
	configDir string
}

func parseGlobalFlags(args []string) (globalArgs, []string, error) {
	parsed := globalArgs{}

	fs := flag.NewFlagSet("sessionctl", flag.ContinueOnError)
	fs.StringVar(&parsed.env, "env", goEnv, "environment (development or production)")
	fs.StringVar(&parsed.configDir, "config", "config", "directory holding config.<env>.yaml")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: sessionctl [-env env] [-config dir] <command> [flags]")
		fmt.Fprintln(fs.Output(), "commands: status, bootstrap, renew, logout, login, remember, watch, get")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return globalArgs{}, nil, err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return globalArgs{}, nil, flag.ErrHelp
	}
	return parsed, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	global, rest, err := parseGlobalFlags(args)
	if err != nil {
		return err
	}

	command, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}

	a, err := openApp(ctx, global)
	if err != nil {
		return err
	}
	defer a.Close()

	return command(ctx, a, rest[1:], stdout)
}
