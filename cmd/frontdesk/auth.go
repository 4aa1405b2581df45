package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/frontdesk/internal/controller"
	"go.uber.org/zap"
)

const defaultCLISessionURL = "file://"

// promptInput asks the operator for a value; masked input hides what is typed.
var promptInput = func(label string, masked bool) (string, error) {
	input := pterm.DefaultInteractiveTextInput
	if masked {
		input = *input.WithMask("*")
	}
	return input.Show(label)
}

func newAuthCommand() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the stored staff session from the terminal",
	}

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session locally",
		RunE:  runAuthLogin,
	}
	loginCmd.Flags().String("username", "", "Username; prompted for when empty")
	loginCmd.Flags().String("password", "", "Password; prompted for when empty")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored session",
		RunE:  runAuthLogout,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored session and verify it with the auth service",
		RunE:  runAuthStatus,
	}

	authCmd.AddCommand(loginCmd, logoutCmd, statusCmd)
	return authCmd
}

func newCLILogger() (*zap.Logger, error) {
	if viper.GetBool("verbose") {
		return zap.NewDevelopment()
	}
	return zap.NewNop(), nil
}

// startCLISession builds a controller over the local session and waits for
// hydration and verification to finish.
func startCLISession(command *cobra.Command) (*controller.Controller, func(), error) {
	clientConfig, err := LoadClientConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newCLILogger()
	if err != nil {
		return nil, nil, err
	}
	ctx := commandContext(command)
	sessionController, closeStorage, err := buildController(ctx, clientConfig, defaultCLISessionURL, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	select {
	case <-sessionController.Start(ctx):
	case <-ctx.Done():
	}
	return sessionController, func() {
		closeStorage()
		_ = logger.Sync()
	}, nil
}

func runAuthLogin(command *cobra.Command, arguments []string) error {
	sessionController, release, err := startCLISession(command)
	if err != nil {
		return err
	}
	defer release()

	username, err := flagOrPrompt(command, "username", "Username", false)
	if err != nil {
		return err
	}
	password, err := flagOrPrompt(command, "password", "Password", true)
	if err != nil {
		return err
	}

	if _, err := sessionController.Login(commandContext(command), username, password, ""); err != nil {
		message := sessionController.Error()
		if message == "" {
			message = err.Error()
		}
		pterm.Error.Println(message)
		return err
	}
	displayName := username
	if profile := sessionController.CurrentUser(); profile != nil && profile.DisplayName != "" {
		displayName = profile.DisplayName
	}
	pterm.Success.Printfln("Signed in as %s", displayName)
	return nil
}

func runAuthLogout(command *cobra.Command, arguments []string) error {
	sessionController, release, err := startCLISession(command)
	if err != nil {
		return err
	}
	defer release()

	if !sessionController.IsAuthenticated() {
		pterm.Info.Println("No stored session")
		return nil
	}
	sessionController.Logout(commandContext(command))
	pterm.Success.Println("Signed out")
	return nil
}

func runAuthStatus(command *cobra.Command, arguments []string) error {
	sessionController, release, err := startCLISession(command)
	if err != nil {
		return err
	}
	defer release()

	if !sessionController.IsAuthenticated() {
		if message := sessionController.Error(); message != "" {
			pterm.Warning.Println(message)
		}
		pterm.Warning.Println("Not signed in")
		return nil
	}

	pterm.DefaultSection.Println("Session")
	profile := sessionController.CurrentUser()
	rows := pterm.TableData{{"FIELD", "VALUE"}}
	if profile != nil {
		rows = append(rows,
			[]string{"User ID", string(profile.ID)},
			[]string{"Name", profile.DisplayName},
			[]string{"Email", profile.Email},
			[]string{"Roles", strings.Join(profile.Roles, ", ")},
		)
	} else {
		rows = append(rows, []string{"Profile", "not cached"})
	}
	rows = append(rows, []string{"Verified", fmt.Sprintf("%t", sessionController.ProfileVerified())})
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}
	if !sessionController.ProfileVerified() {
		pterm.Warning.Println("The auth service could not confirm this session; showing cached details")
	}
	return nil
}

func flagOrPrompt(command *cobra.Command, flagName string, label string, masked bool) (string, error) {
	value, _ := command.Flags().GetString(flagName)
	if strings.TrimSpace(value) != "" {
		return value, nil
	}
	prompted, err := promptInput(label, masked)
	if err != nil {
		if err == io.EOF {
			return "", fmt.Errorf("%s is required", flagName)
		}
		return "", err
	}
	if strings.TrimSpace(prompted) == "" {
		return "", fmt.Errorf("%s is required", flagName)
	}
	return prompted, nil
}

func commandContext(command *cobra.Command) context.Context {
	if command.Context() != nil {
		return command.Context()
	}
	return context.Background()
}
