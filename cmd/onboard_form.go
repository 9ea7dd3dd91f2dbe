package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// isInteractiveTerminal reports whether stdin and stdout are attached to
// a TTY, i.e. a human is there to answer prompts.
func isInteractiveTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
}

// runInteractiveOnboard collects a provider choice, an API key, and an
// optional Telegram bot token, then exports them into the process
// environment. Setup itself then runs through the same path as
// env-driven onboarding, so both flows verify, migrate, and save
// identically.
func runInteractiveOnboard() error {
	fmt.Println("Welcome to askdb. Let's connect an LLM provider.")
	fmt.Println()

	provider := providerPriority[0]
	var apiKey string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(huh.NewOptions(providerPriority...)...).
				Value(&provider),
			huh.NewInput().
				Title("API key").
				Description("Stays in your environment; never written to config.json.").
				EchoMode(huh.EchoModePassword).
				Validate(requireNonEmpty("API key")).
				Value(&apiKey),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	os.Setenv(providerMap[provider].envKey, strings.TrimSpace(apiKey))
	os.Setenv("ASKDB_PROVIDER", provider)

	var wantTelegram bool
	confirm := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Connect a Telegram bot now?").
			Description("Needs a token from @BotFather. You can add one later with ASKDB_TELEGRAM_TOKEN.").
			Value(&wantTelegram),
	))
	if err := confirm.Run(); err != nil {
		return err
	}

	if wantTelegram {
		var tgToken string
		tokenForm := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				EchoMode(huh.EchoModePassword).
				Validate(requireNonEmpty("token")).
				Value(&tgToken),
		))
		if err := tokenForm.Run(); err != nil {
			return err
		}
		os.Setenv("ASKDB_TELEGRAM_TOKEN", strings.TrimSpace(tgToken))
	}

	fmt.Println()
	return nil
}

func requireNonEmpty(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", what)
		}
		return nil
	}
}
