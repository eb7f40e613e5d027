package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/m4xw311/comclerk/agent"
	"github.com/m4xw311/comclerk/agent/terminal"
	"github.com/m4xw311/comclerk/config"
	"github.com/m4xw311/comclerk/events"
	"github.com/m4xw311/comclerk/llm"
	"github.com/m4xw311/comclerk/permission"
	"github.com/m4xw311/comclerk/server"
	"github.com/m4xw311/comclerk/session"
)

func main() {
	// Define flags
	sessionFlag := flag.String("s", "", "Title for a new session")
	resumeFlag := flag.String("r", "", "Resume a session by ID")
	toolsetFlag := flag.String("t", "", "Toolset to use (defaults to 'default')")
	promptFlag := flag.String("p", "", "Initial prompt to send")
	serveFlag := flag.Bool("serve", false, "Serve the HTTP API instead of the interactive terminal")
	toolVerbosityFlag := flag.String("tool-verbosity", "info", "Tool verbosity level: 'none', 'info', or 'all'")
	flag.Parse()

	var verbosity terminal.ToolVerbosity
	switch *toolVerbosityFlag {
	case "none":
		verbosity = terminal.ToolVerbosityNone
	case "info":
		verbosity = terminal.ToolVerbosityInfo
	case "all":
		verbosity = terminal.ToolVerbosityAll
	default:
		fmt.Fprintf(os.Stderr, "Invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'.\n", *toolVerbosityFlag)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	store, err := session.NewDiskStore(cfg.SessionsDir, bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session store: %+v\n", err)
		os.Exit(1)
	}
	perms := permission.NewMemStore(bus)
	perms.Preapprove(cfg.Approvals.Always)

	// Initialize LLM Client
	var client llm.LLMClient
	switch cfg.LLMClient {
	case "gemini":
		client, err = llm.NewGeminiLLMClient(context.Background(), cfg.Model)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing Gemini client: %+v\n", err)
			os.Exit(1)
		}
	case "openai":
		client, err = llm.NewOpenAILLMClient(context.Background(), cfg.Model)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing OpenAI client: %+v\n", err)
			os.Exit(1)
		}
	case "bedrock":
		client, err = llm.NewBedrockLLMClient(context.Background(), cfg.Model)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing Bedrock client: %+v\n", err)
			os.Exit(1)
		}
	case "anthropic":
		client, err = llm.NewAnthropicLLMClient(context.Background(), cfg.Model)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing Anthropic client: %+v\n", err)
			os.Exit(1)
		}
	default:
		client = &llm.MockLLMClient{}
	}

	a, err := agent.New(cfg, store, perms, *toolsetFlag, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing agent: %+v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if *serveFlag {
		addr := cfg.ServerAddr
		if addr == "" {
			addr = ":4096"
		}
		fmt.Printf("Serving comclerk API on %s\n", addr)
		srv := server.New(store, perms, bus, a)
		if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %+v\n", err)
			os.Exit(1)
		}
		return
	}

	var sess *session.Session
	if *resumeFlag != "" {
		sess, err = store.GetSession(*resumeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resuming session '%s': %+v\n", *resumeFlag, err)
			os.Exit(1)
		}
		fmt.Printf("Resuming session: %s\n", sess.ID)
	} else {
		sess, err = store.CreateSession(*sessionFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating session: %+v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Starting new session: %s\n", sess.ID)
	}

	term := terminal.New(a, store, perms, bus, cfg, verbosity)
	if err := term.Run(context.Background(), sess.ID, *promptFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}
