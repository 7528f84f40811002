package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"privateprompt/internal/conversation"
	"privateprompt/internal/render"
	"privateprompt/pkg/types"
)

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	detailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// runChat starts the interactive chat loop. The loop is a thin collaborator:
// all conversation and session rules live in the internal packages; the loop
// only reads input, invokes operations and prints observable projections.
func runChat(cmd *cobra.Command, _ []string) error {
	var a *app
	a, err := buildApp(types.NavigatorFunc(func(signal types.Signal) {
		if signal == types.SignalSessionExpired {
			fmt.Println(errorStyle.Render("Session expired. Please log in again."))
		}
		if a != nil {
			a.store.Reset()
		}
	}))
	if err != nil {
		return err
	}

	renderer, err := render.NewRenderer()
	if err != nil {
		return err
	}

	a.session.RestoreFromStorage()
	if !a.session.Authenticated() {
		return errors.New("not logged in; run 'privateprompt login' first")
	}

	if err := a.store.LoadHistory(cmd.Context()); err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
	}
	printTranscript(a.store.Messages(), renderer)

	fmt.Println(detailStyle.Render("Type a message, or /details, /history, /logout, /quit."))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if !a.session.Authenticated() {
			return nil
		}

		fmt.Print(userStyle.Render("you> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/logout":
			a.session.Logout()
			fmt.Println("Logged out.")
			return nil
		case line == "/history":
			if err := a.store.LoadHistory(cmd.Context()); err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
				continue
			}
			printTranscript(a.store.Messages(), renderer)
		case line == "/details":
			printDetails(a.store.Messages())
		case strings.HasPrefix(line, "/"):
			fmt.Println(detailStyle.Render("Unknown command: " + line))
		default:
			if err := a.store.Submit(cmd.Context(), line); err != nil {
				if errors.Is(err, conversation.ErrSubmitInFlight) {
					fmt.Println(errorStyle.Render("Previous message is still processing."))
				} else {
					fmt.Println(errorStyle.Render(err.Error()))
				}
				continue
			}
			printLatestAssistant(a.store.Messages(), renderer)
		}
	}
}

// printTranscript prints the whole conversation log.
func printTranscript(messages []types.Message, renderer *render.Renderer) {
	for _, message := range messages {
		printMessage(message, renderer)
	}
}

// printLatestAssistant prints the assistant turn produced by the last
// exchange, if one exists.
func printLatestAssistant(messages []types.Message, renderer *render.Renderer) {
	if len(messages) == 0 {
		return
	}
	last := messages[len(messages)-1]
	if last.Author == types.RoleAssistant {
		printMessage(last, renderer)
	}
}

func printMessage(message types.Message, renderer *render.Renderer) {
	switch message.Author {
	case types.RoleUser:
		fmt.Println(userStyle.Render("you> ") + message.DisplayText)
	case types.RoleAssistant:
		rendered, err := renderer.Markdown(message.DisplayText)
		if err != nil {
			rendered = message.DisplayText + "\n"
		}
		fmt.Print(assistantStyle.Render("bot> ") + rendered)
	}
}

// printDetails shows the processing trail of the most recent reconciled
// exchange: the anonymized prompt that was actually sent to the model and
// the model's raw output, with substituted placeholders emphasized.
func printDetails(messages []types.Message) {
	for i := len(messages) - 1; i >= 0; i-- {
		message := messages[i]
		if message.Author != types.RoleAssistant || message.Provenance == nil {
			continue
		}
		fmt.Println(detailStyle.Render("Anonymized prompt:"))
		fmt.Println("  " + render.HighlightPlaceholders(message.Provenance.AnonymizedPrompt))
		fmt.Println(detailStyle.Render("LLM raw response:"))
		fmt.Println("  " + render.HighlightPlaceholders(message.Provenance.RawModelOutput))
		for _, mapping := range message.Provenance.Mapping {
			fmt.Printf("  %s: %s -> %s\n", mapping.Type, mapping.Original, render.HighlightPlaceholders(mapping.Anonymized))
		}
		return
	}
	fmt.Println(detailStyle.Render("No reconciled exchange yet."))
}
