// Package terminal is the interactive CLI frontend. It follows the
// session through the live synchronization layer, the same way a
// remote client would, instead of reaching into the agent directly.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/comclerk/agent"
	"github.com/m4xw311/comclerk/config"
	"github.com/m4xw311/comclerk/events"
	"github.com/m4xw311/comclerk/live"
	"github.com/m4xw311/comclerk/permission"
	"github.com/m4xw311/comclerk/session"
)

// ToolVerbosity controls how much of a tool invocation the terminal
// echoes.
type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none" // only errors
	ToolVerbosityInfo ToolVerbosity = "info" // tool names
	ToolVerbosityAll  ToolVerbosity = "all"  // names and outputs
)

// Terminal handles the terminal/CLI interaction mode for the agent.
type Terminal struct {
	agent     *agent.Agent
	store     session.Store
	perms     *permission.MemStore
	bus       *events.Bus
	cfg       *config.Config
	verbosity ToolVerbosity

	mu      sync.Mutex
	printed map[string]bool
}

// New creates a new Terminal instance.
func New(a *agent.Agent, store session.Store, perms *permission.MemStore, bus *events.Bus, cfg *config.Config, verbosity ToolVerbosity) *Terminal {
	return &Terminal{
		agent:     a,
		store:     store,
		perms:     perms,
		bus:       bus,
		cfg:       cfg,
		verbosity: verbosity,
		printed:   make(map[string]bool),
	}
}

// Run starts the interactive session.
func (t *Terminal) Run(ctx context.Context, sessionID, initialPrompt string) error {
	gate := permission.NewGate(func(ctx context.Context, requestID, reply string) error {
		return t.perms.Reply(requestID, reply)
	})
	watcher := live.NewWatcher(&live.LocalSource{Store: t.store, Perms: t.perms, Bus: t.bus}, gate, live.Options{
		PermissionInterval: t.cfg.Sync.PermissionInterval(),
		MessageInterval:    t.cfg.Sync.MessageInterval(),
		Debounce:           t.cfg.Sync.Debounce(),
		OnMessages:         t.render,
	})
	watcher.Watch(ctx, sessionID)
	defer watcher.Close()

	if initialPrompt != "" {
		if err := t.processTurn(ctx, sessionID, gate, initialPrompt); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			// EOF or read error ends the session
			break
		}

		userInput := strings.TrimSpace(scanner.Text())
		if userInput == "" {
			continue
		}

		// Exit commands
		if userInput == "/quit" || userInput == "/exit" {
			break
		}

		if err := t.processTurn(ctx, sessionID, gate, userInput); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}

	return scanner.Err()
}

// processTurn stores the prompt, runs the turn in the background and
// services the approval gate until the turn ends.
func (t *Terminal) processTurn(ctx context.Context, sessionID string, gate *permission.Gate, userInput string) error {
	if _, err := t.store.AppendMessage(sessionID, session.MessageInfo{Role: session.RoleUser}, []session.Part{
		{Type: session.PartText, Text: userInput},
	}); err != nil {
		return err
	}
	t.markPrinted(sessionID)

	done := make(chan error, 1)
	go func() { done <- t.agent.Run(ctx, sessionID) }()

	stdin := bufio.NewReader(os.Stdin)
	for {
		select {
		case err := <-done:
			// Drain any request that resolved with the turn.
			return err
		default:
		}

		current := gate.Current()
		if current == nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		fmt.Printf("\nApproval needed: %s\n", current.Title)
		fmt.Print("  [1] allow once  [2] always allow  [3] reject: ")
		answer, err := stdin.ReadString('\n')
		if err != nil {
			return err
		}

		reply := permission.ReplyReject
		switch strings.TrimSpace(answer) {
		case "1":
			reply = permission.ReplyOnce
		case "2":
			reply = permission.ReplyAlways
		case "3":
			reply = permission.ReplyReject
		default:
			fmt.Println("Unrecognized answer, rejecting.")
		}
		if err := gate.Reply(ctx, reply); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
	}
}

// render prints parts not shown yet. It runs on the watcher goroutine.
func (t *Terminal) render(msgs []session.MessageWithParts) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, msg := range msgs {
		if msg.Info.Role != session.RoleAssistant {
			continue
		}
		for _, part := range msg.Parts {
			if t.printed[part.ID] {
				continue
			}
			switch part.Type {
			case session.PartText:
				fmt.Printf("Comclerk: %s\n", part.Text)
				t.printed[part.ID] = true
			case session.PartTool:
				if part.State == nil || part.State.Status == session.ToolPending || part.State.Status == session.ToolRunning {
					continue
				}
				// Failures always print; successes follow the verbosity.
				if part.State.Status == session.ToolError {
					fmt.Printf("Tool `%s` failed: %s\n", part.Tool, part.State.Error)
				} else if t.verbosity == ToolVerbosityAll {
					fmt.Printf("Tool `%s` output: %s\n", part.Tool, part.State.Output)
				} else if t.verbosity == ToolVerbosityInfo {
					fmt.Printf("Tool `%s` finished.\n", part.Tool)
				}
				t.printed[part.ID] = true
			case session.PartSubtask:
				if part.Status != session.ToolCompleted && part.Status != session.ToolError {
					continue
				}
				fmt.Printf("Subtask `%s` %s.\n", part.Description, part.Status)
				t.printed[part.ID] = true
			}
		}
	}
}

// markPrinted suppresses echo of content that predates the turn,
// including the user message just typed.
func (t *Terminal) markPrinted(sessionID string) {
	msgs, err := t.store.ListMessages(sessionID)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, msg := range msgs {
		if msg.Info.Role == session.RoleAssistant {
			continue
		}
		for _, part := range msg.Parts {
			t.printed[part.ID] = true
		}
	}
}
