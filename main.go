// Command staticserve serves a directory over HTTP.
//
// Usage:
//
//	staticserve [port] [directory]
//
// port defaults to 8080 and directory to the current working directory. If
// STATICSERVE_CONFIG names a configuration file it is loaded first; the
// positional arguments override it.
package main

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/fatih/color"

	"example.com/staticserve/internal/config"
	"example.com/staticserve/internal/handlers/staticfile"
	"example.com/staticserve/internal/logger"
	"example.com/staticserve/internal/server"
	"example.com/staticserve/internal/util"
)

// configEnvKey names the optional configuration file.
const configEnvKey = "STATICSERVE_CONFIG"

// cliArgs holds the positional arguments. Empty fields were not given.
type cliArgs struct {
	port      string
	directory string
}

// parseArgs reads [port] [directory]; anything after them is ignored.
func parseArgs(args []string) cliArgs {
	var a cliArgs
	if len(args) > 0 {
		a.port = args[0]
	}
	if len(args) > 1 {
		a.directory = args[1]
	}
	return a
}

// buildConfig loads configPath (or the defaults when empty), applies the
// positional overrides and validates the result.
func buildConfig(args cliArgs, configPath string) (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if args.port != "" {
		host, _, err := net.SplitHostPort(*cfg.Server.Address)
		if err != nil {
			return nil, fmt.Errorf("cannot apply port %q to address %q: %w", args.port, *cfg.Server.Address, err)
		}
		addr := net.JoinHostPort(host, args.port)
		cfg.Server.Address = &addr
	}
	if args.directory != "" {
		cfg.Static.DocumentRoot = args.directory
	}

	if err := config.Validate(cfg); err != nil {
		return nil, &config.ConfigError{FilePath: cfg.OriginalFilePath(), Message: "invalid configuration", Err: err}
	}
	return cfg, nil
}

// startupFailure renders a bind error for the terminal.
func startupFailure(address string, err error) string {
	if util.IsAddrInUse(err) {
		return fmt.Sprintf("cannot listen on %s: address already in use", address)
	}
	return fmt.Sprintf("cannot listen on %s: %v", address, err)
}

// printBanner writes the one-line startup announcement.
func printBanner(w io.Writer, root, addr string) {
	bold := color.New(color.FgGreen, color.Bold).SprintFunc()
	fmt.Fprintf(w, "🚀 Serving '%s' on %s\n", bold(root), bold("http://"+addr))
}

func fatalf(format string, a ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, "staticserve: "+format+"\n", a...)
	os.Exit(1)
}

func main() {
	args := parseArgs(os.Args[1:])

	cfg, err := buildConfig(args, os.Getenv(configEnvKey))
	if err != nil {
		fatalf("%v", err)
	}

	sfsCfg, err := config.ResolveStaticFileServerConfig(cfg.Static, cfg.OriginalFilePath())
	if err != nil {
		fatalf("%v", err)
	}

	lg, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fatalf("failed to create logger: %v", err)
	}
	defer lg.CloseLogFiles()

	handler, err := staticfile.New(sfsCfg, lg)
	if err != nil {
		fatalf("%v", err)
	}

	srv, err := server.NewServer(cfg, lg, handler)
	if err != nil {
		fatalf("failed to create server: %v", err)
	}

	if err := srv.Listen(); err != nil {
		lg.Error("Failed to bind listener", logger.LogFields{"address": *cfg.Server.Address, "error": err.Error()})
		lg.CloseLogFiles()
		fatalf("%s", startupFailure(*cfg.Server.Address, err))
	}

	addr := srv.Addr().String()
	printBanner(os.Stdout, handler.Root(), addr)
	lg.Info("Serving directory", logger.LogFields{"root": handler.Root(), "address": addr})

	if err := srv.Start(); err != nil {
		lg.Error("Server stopped with error", logger.LogFields{"error": err.Error()})
		lg.CloseLogFiles()
		os.Exit(1)
	}

	lg.Info("Server shut down gracefully", nil)
}
