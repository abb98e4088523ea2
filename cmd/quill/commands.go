// commands.go contains the cobra command definitions and their flag
// configurations. Each builder creates a command and wires it to its handler
// in handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		provider   string
		model      string
		system     string
		message    string
		reasoning  bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run turns against the configured providers",
		Long: `Run chat turns against the configured providers.

With --message the command runs a single turn, prints the reply, and exits.
Without it an interactive session starts; type a message per line, /regen to
regenerate the last reply, and /quit to leave.`,
		Example: `  # Interactive session with the default provider
  quill chat

  # One-shot question against a specific model
  quill chat --provider openai --model gpt-4o -m "Summarize RFC 9110"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), chatParams{
				configPath: resolveConfigPath(configPath),
				provider:   provider,
				model:      model,
				system:     system,
				message:    message,
				reasoning:  reasoning,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default: quill.yaml)")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Provider to use (default: from config)")
	cmd.Flags().StringVar(&model, "model", "", "Model to use (default: provider's default)")
	cmd.Flags().StringVarP(&system, "system", "s", "", "System prompt")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Run one turn with this message and exit")
	cmd.Flags().BoolVar(&reasoning, "reasoning", false, "Enable extended reasoning where the model supports it")

	return cmd
}

func buildToolsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTools(resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default: quill.yaml)")

	return cmd
}
