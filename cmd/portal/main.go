package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/akamensky/argparse"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/andesco/portal/handlers"
	"github.com/andesco/portal/pkg/config"
	"github.com/andesco/portal/pkg/rewriter"
)

func main() {
	parser := argparse.NewParser("portal", "A web-rewriting proxy")

	configPath := parser.String("c", "config", &argparse.Options{
		Required: false,
		Default:  os.Getenv("PORTAL_CONFIG"),
		Help:     "YAML config file",
	})
	port := parser.String("p", "port", &argparse.Options{
		Required: false,
		Help:     "Port the webserver will listen on (overrides config)",
	})
	title := parser.String("t", "title", &argparse.Options{
		Required: false,
		Help:     "Title for proxied pages when the config sets none",
	})
	process := parser.String("r", "process", &argparse.Options{
		Required: false,
		Help:     "Rewrite an HTML file ('-' for stdin) to stdout and exit",
	})
	source := parser.String("s", "source", &argparse.Options{
		Required: false,
		Help:     "Restore a rewritten HTML file ('-' for stdin) to stdout and exit",
	})
	base := parser.String("b", "base", &argparse.Options{
		Required: false,
		Default:  "http://localhost/",
		Help:     "Base URL used with --process",
	})
	fragment := parser.Flag("f", "fragment", &argparse.Options{
		Required: false,
		Help:     "Treat --process/--source input as a fragment instead of a document",
	})
	debug := parser.Flag("d", "debug", &argparse.Options{
		Required: false,
		Help:     "Development logging",
	})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	log, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("could not load config", zap.Error(err))
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *title != "" && !cfg.ProxyConfig.Title.Set {
		cfg.ProxyConfig.Title = config.TitleSetting{Set: true, Text: *title}
	}

	proxy, err := handlers.NewProxy(cfg, log)
	if err != nil {
		log.Fatal("could not initialize proxy", zap.Error(err))
	}

	switch {
	case *process != "":
		err = runOffline(*process, func(in string) (string, error) {
			return proxy.Rewriter.Process(in, rewriter.ProcessOptions{Document: !*fragment, Base: *base})
		})
	case *source != "":
		err = runOffline(*source, func(in string) (string, error) {
			return proxy.Rewriter.Source(in, rewriter.SourceOptions{Document: !*fragment})
		})
	default:
		log.Info("listening",
			zap.String("addr", "http://localhost:"+cfg.Port),
			zap.String("prefix", cfg.ProxyConfig.Prefix),
			zap.String("codec", cfg.ProxyConfig.Codec),
			zap.String("title", proxy.Rewriter.Title().Literal()))
		err = handlers.NewApp(proxy).Listen(":" + cfg.Port)
	}
	if err != nil {
		log.Fatal("portal exited", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runOffline(path string, transform func(string) (string, error)) error {
	var input []byte
	var err error
	if path == "-" {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("refusing to read markup from an interactive terminal; pipe a file in")
		}
		input, err = io.ReadAll(os.Stdin)
	} else {
		input, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	out, err := transform(string(input))
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(os.Stdout, out)
	return err
}
