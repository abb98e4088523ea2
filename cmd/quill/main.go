// Package main provides the CLI entry point for Quill, a streaming
// chat-completion engine with multi-provider adapters and tool execution.
//
// # Basic Usage
//
// Start an interactive chat:
//
//	quill chat --config quill.yaml
//
// Ask a single question:
//
//	quill chat -m "What does this stack trace mean?"
//
// List the registered tools:
//
//	quill tools
//
// # Environment Variables
//
// Configuration values can reference environment variables with ${VAR}
// syntax, so API keys never need to live in the file itself:
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - GEMINI_API_KEY: Google API key for Gemini models
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := &cobra.Command{
		Use:           "quill",
		Short:         "Streaming chat-completion engine",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(buildChatCmd())
	root.AddCommand(buildToolsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
