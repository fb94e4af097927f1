package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Desarso/taxassist"
	"github.com/Desarso/taxassist/chat"
	"github.com/Desarso/taxassist/client"
	"github.com/Desarso/taxassist/extract"
	"github.com/Desarso/taxassist/history"
	"github.com/Desarso/taxassist/render"
	"github.com/Desarso/taxassist/stores"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		serveCmd(os.Args[2:])
	case "chat":
		chatCmd(os.Args[2:])
	case "version":
		fmt.Printf("taxassist %s\n", Version)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `taxassist

Usage:
  taxassist serve [flags]
  taxassist chat [flags]
  taxassist version

Commands:
  serve     Run the chat relay, upload and suggestion endpoints.
  chat      Talk to a running relay from the terminal.
  version   Print build information.

`)
}

func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "TOML config file (default taxassist.toml if present)")
	addr := fs.String("addr", "", "Listen address, overrides config")
	provider := fs.String("provider", "", "Model provider: openai, openrouter, anthropic, gemini or scripted")
	model := fs.String("model", "", "Model name for the provider")
	templateHints := fs.Bool("template-hints", false, "Show the model a worked example for income questions")
	_ = fs.Parse(args)

	cfg, err := taxassist.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.WithAddr(*addr)
	}
	if *provider != "" {
		cfg.WithProvider(*provider, *model)
	} else if *model != "" {
		cfg.Model.Name = *model
	}
	if *templateHints {
		cfg.WithTemplateHints(true)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	srv, err := taxassist.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func chatCmd(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "", "TOML config file (default taxassist.toml if present)")
	url := fs.String("url", "", "Relay base URL (default derived from the configured addr)")
	width := fs.Int("width", 80, "Wrap width for answers")
	plain := fs.Bool("plain", false, "Disable colors and styling")
	verbose := fs.Bool("v", false, "Log session activity to stderr")
	_ = fs.Parse(args)

	cfg, err := taxassist.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *url == "" {
		*url = relayURL(cfg.Addr)
	}

	blobs, err := stores.NewStore(&cfg.History)
	if err != nil {
		log.Fatalf("Failed to open history store: %v", err)
	}
	defer blobs.Close()

	renderer, err := render.New(*width, !*plain)
	if err != nil {
		log.Fatalf("Failed to create renderer: %v", err)
	}
	cache, err := extract.NewCache(0)
	if err != nil {
		log.Fatalf("Failed to create render cache: %v", err)
	}

	logOut := io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	store := history.NewStore(blobs).WithLogger(log.New(logOut, "[HISTORY] ", log.LstdFlags))
	c := client.New(*url)
	session := chat.NewSession(c, store).WithLogger(log.New(logOut, "[CHAT] ", log.LstdFlags))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := newREPL(ctx, c, session, store, renderer, cache, os.Stdin, os.Stdout)
	if err := r.run(); err != nil {
		log.Fatalf("Chat error: %v", err)
	}
}

// relayURL turns a listen address such as ":8000" into a dialable URL.
func relayURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}
