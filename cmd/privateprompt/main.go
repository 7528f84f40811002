// Package main provides the privateprompt CLI entry point. privateprompt is
// a client for a privacy-preserving prompt relay: prompts are anonymized
// server-side before reaching the language model, and responses are
// de-anonymized before display.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"privateprompt/internal/auth"
	"privateprompt/internal/config"
	"privateprompt/internal/conversation"
	"privateprompt/internal/logger"
	"privateprompt/internal/relay"
	"privateprompt/pkg/types"
)

var (
	logLevel string
	logFile  string
	username string
	version  = "0.1.0" // This could be set at build time
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "privateprompt",
	Short: "Private-Prompt client - anonymized AI conversations",
	Long: `privateprompt is a terminal client for a privacy-preserving prompt relay.
Your messages are anonymized before reaching the language model and responses
are de-anonymized before display; the processing trail of every exchange can
be inspected.`,
	RunE: runChat, // Default behavior is to start the chat loop
}

// chatCmd represents the chat command (explicit version of default behavior).
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat loop",
	RunE:  runChat,
}

// loginCmd authenticates against the relay and persists the credential.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and store a session credential",
	RunE:  runLogin,
}

// registerCmd creates an account on the relay.
var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account on the relay",
	RunE:  runRegister,
}

// logoutCmd clears the persisted session credential.
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored session credential",
	RunE:  runLogout,
}

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("privateprompt v%s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (debug|info|warn|error) [default: info]")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr")

	if err := viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding log-level flag: %v\n", err)
		os.Exit(1)
	}
	if err := viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding log-file flag: %v\n", err)
		os.Exit(1)
	}

	loginCmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	registerCmd.Flags().StringVarP(&username, "username", "u", "", "Account username")

	rootCmd.AddCommand(chatCmd, loginCmd, registerCmd, logoutCmd, versionCmd)
}

// app bundles the wired client components.
type app struct {
	cfg     *config.Config
	session *auth.Manager
	store   *conversation.Store
	client  *relay.Client
}

// buildApp wires configuration, relay client, session manager and
// conversation store together. The relay client draws its bearer credential
// from the session manager on every request.
func buildApp(navigator types.Navigator) (*app, error) {
	if err := logger.Configure(viper.GetString("log-level"), viper.GetString("log-file")); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var manager *auth.Manager
	client := relay.NewClient(cfg.RelayURL, cfg.RequestTimeout, relay.CredentialSourceFunc(func() (string, bool) {
		if manager == nil {
			return "", false
		}
		return manager.Credential()
	}))

	tokens := auth.NewFileTokenStore(cfg.TokenFile)
	manager = auth.NewManager(tokens, client, navigator, cfg.SessionTTL)
	store := conversation.NewStore(client, manager)

	return &app{cfg: cfg, session: manager, store: store, client: client}, nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(nil)
	if err != nil {
		return err
	}

	user, password, err := promptCredentials(cmd)
	if err != nil {
		return err
	}

	if err := a.session.Login(cmd.Context(), user, password); err != nil {
		return err
	}
	cmd.Println("Logged in.")
	return nil
}

func runRegister(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(nil)
	if err != nil {
		return err
	}

	user, password, err := promptCredentials(cmd)
	if err != nil {
		return err
	}

	if err := a.session.Register(cmd.Context(), user, password); err != nil {
		return err
	}
	if a.session.Authenticated() {
		cmd.Println("Account created and logged in.")
	} else {
		cmd.Println("Account created. Run 'privateprompt login' to sign in.")
	}
	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	a, err := buildApp(nil)
	if err != nil {
		return err
	}
	a.session.Logout()
	fmt.Println("Logged out.")
	return nil
}

// promptCredentials collects the username (flag or prompt) and reads the
// password without echo.
func promptCredentials(cmd *cobra.Command) (string, string, error) {
	user := username
	if user == "" {
		cmd.Print("Username: ")
		if _, err := fmt.Scanln(&user); err != nil {
			return "", "", fmt.Errorf("failed to read username: %w", err)
		}
	}

	cmd.Print("Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	cmd.Println()
	if err != nil {
		return "", "", fmt.Errorf("failed to read password: %w", err)
	}
	return user, string(raw), nil
}
