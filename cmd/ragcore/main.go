// Command ragcore is a terminal companion for smoke-testing the engine
// outside the desktop shell: `ragcore doctor` verifies the configured
// stores and providers come up cleanly, `ragcore chat <question>` runs one
// turn of the chat engine and renders the answer as markdown.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bbiangul/ragcore"
	"github.com/bbiangul/ragcore/chat"
	"github.com/bbiangul/ragcore/engine"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	citationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	headingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ragcore <doctor|chat> [args]")
		os.Exit(2)
	}

	cfg := ragcore.DefaultConfig()
	if path := os.Getenv("RAGCORE_CONFIG"); path != "" {
		loaded, err := ragcore.LoadConfig(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render("loading config: "+err.Error()))
			os.Exit(1)
		}
		cfg = loaded
	}

	switch os.Args[1] {
	case "doctor":
		runDoctor(cfg)
	case "chat":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: ragcore chat <question>")
			os.Exit(2)
		}
		runChat(cfg, strings.Join(os.Args[2:], " "))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

// runDoctor constructs the engine and reports what came up, matching the
// teacher's createMarkdownRenderer fallback-and-report style: never panic,
// always say what worked and what didn't.
func runDoctor(cfg ragcore.Config) {
	fmt.Println(headingStyle.Render("ragcore doctor"))
	fmt.Printf("  db path:   %s\n", cfg.ResolveDBPath())
	fmt.Printf("  data dir:  %s\n", cfg.ResolveDataDir())
	fmt.Printf("  chat:      %s/%s\n", cfg.Chat.Provider, cfg.Chat.Model)
	fmt.Printf("  embedding: %s/%s\n", cfg.Embedding.Provider, cfg.Embedding.Model)

	eng, err := engine.New(cfg)
	if err != nil {
		fmt.Println(errorStyle.Render("engine failed to start: " + err.Error()))
		os.Exit(1)
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stats, err := eng.Statistics(ctx)
	if err != nil {
		fmt.Println(errorStyle.Render("statistics query failed: " + err.Error()))
		os.Exit(1)
	}
	fmt.Printf("  documents: %d\n", stats.TotalDocuments)
	fmt.Printf("  chunks:    %d\n", stats.TotalChunks)
	fmt.Println(headingStyle.Render("engine is healthy"))
}

func runChat(cfg ragcore.Config, question string) {
	eng, err := engine.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("engine failed to start: "+err.Error()))
		os.Exit(1)
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	resp, err := eng.Chat.Process(ctx, question, chat.ChatContext{SessionID: "cli"}, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("chat failed: "+err.Error()))
		os.Exit(1)
	}

	fmt.Println(renderMarkdown(resp.Content))
	if resp.Warning != "" {
		fmt.Println(errorStyle.Render(resp.Warning))
	}
	for _, c := range resp.Citations {
		fmt.Println(citationStyle.Render(fmt.Sprintf("[%d] %s — %s", c.Number, c.Title, c.Source)))
	}
}

// renderMarkdown mirrors the teacher's auto-style-then-plain fallback chain
// so a missing terminfo entry never crashes the CLI.
func renderMarkdown(content string) string {
	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		renderer, err = glamour.NewTermRenderer(glamour.WithWordWrap(100))
	}
	if err != nil {
		return content
	}
	out, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
