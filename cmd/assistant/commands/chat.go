package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Protocol-Lattice/airport-assistant/src/agent"
	"github.com/Protocol-Lattice/airport-assistant/src/auth"
	"github.com/Protocol-Lattice/airport-assistant/src/models"
	"github.com/Protocol-Lattice/airport-assistant/src/orchestrator"
	"github.com/Protocol-Lattice/airport-assistant/src/tools"
)

const chatHelp = `Commands:
  /login <token>   sign in with a bearer token
  /welcome <name>  greet a signed in user by name
  /history         print the conversation so far
  /reset           start over with a fresh session
  /quit            leave`

// NewChatCmd creates the interactive chat command.
func NewChatCmd() *cobra.Command {
	var (
		sessionID string
		token     string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant on stdin",
		Long: "Starts an interactive session. Each line is one message.\n\n" + chatHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer e.Close()

			orch, err := newOrchestrator(ctx, e)
			if err != nil {
				return err
			}
			defer func() {
				if err := orch.CloseAll(context.Background()); err != nil {
					log.Printf("[session] shutdown warning: %v", err)
				}
			}()
			return chatLoop(ctx, orch, sessionID, token, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Fixed session id (random when empty)")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token of the signed in user")
	return cmd
}

// newOrchestrator wires one shared model, tool catalogue and verifier into a per-session
// agent factory.
func newOrchestrator(ctx context.Context, e *env) (*orchestrator.Orchestrator, error) {
	llm, err := models.NewLLMProvider(ctx, e.cfg.LLMProvider, e.cfg.LLMModel, "")
	if err != nil {
		return nil, fmt.Errorf("language model: %w", err)
	}
	llm = models.TryCachedLLM(llm)

	var verifier auth.Verifier
	if e.cfg.GoogleClientID != "" {
		g, err := auth.NewGoogleVerifier(e.cfg.GoogleClientID)
		if err != nil {
			return nil, err
		}
		verifier = g
	}

	catalog := tools.New(e.client, e.embedder, e.cfg.SearchOptions())
	log.Printf("[session] %d tools available for %s", catalog.Len(), e.client.Kind())

	factory := func(_ context.Context, id string) (orchestrator.Conversation, error) {
		return agent.New(agent.Options{
			Model:     llm,
			Tools:     catalog,
			Verifier:  verifier,
			SessionID: id,
		})
	}
	return orchestrator.New(factory), nil
}

func chatLoop(ctx context.Context, orch *orchestrator.Orchestrator, sessionID, token string, in io.Reader, out io.Writer) error {
	id, err := orch.Create(ctx, sessionID)
	if err != nil {
		return err
	}
	if token != "" {
		if err := orch.SetAuthHeader(ctx, id, token); err != nil {
			return err
		}
	}
	if h, err := orch.History(id); err == nil && len(h) > 0 {
		fmt.Fprintf(out, "Assistant: %s\n", h[len(h)-1].Content)
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			cmd, arg, _ := strings.Cut(line, " ")
			arg = strings.TrimSpace(arg)
			switch cmd {
			case "/quit", "/exit":
				return nil
			case "/help":
				fmt.Fprintln(out, chatHelp)
			case "/login":
				if err := orch.SetAuthHeader(ctx, id, arg); err != nil {
					return err
				}
				fmt.Fprintln(out, "Token set.")
			case "/welcome":
				if err := orch.Welcome(ctx, id, arg); err != nil {
					return err
				}
				h, _ := orch.History(id)
				fmt.Fprintf(out, "Assistant: %s\n", h[len(h)-1].Content)
			case "/history":
				h, err := orch.History(id)
				if err != nil {
					return err
				}
				for _, m := range h {
					fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
				}
			case "/reset":
				if err := orch.Reset(ctx, id); err != nil {
					return err
				}
				if id, err = orch.Create(ctx, ""); err != nil {
					return err
				}
				fmt.Fprintf(out, "New session %s\n", id)
			default:
				fmt.Fprintf(out, "Unknown command %s\n%s\n", cmd, chatHelp)
			}
			continue
		}

		reply, err := orch.Invoke(ctx, id, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "Assistant: %s\n", reply)
	}
}
