package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/adamscao/ticketauth/internal/app"
	"github.com/adamscao/ticketauth/internal/config"
	"github.com/adamscao/ticketauth/internal/logging"
	"github.com/adamscao/ticketauth/internal/models"
	"github.com/adamscao/ticketauth/internal/service"
)

var (
	configPath string
	instance   *app.App
)

// cliMeta marks audit events caused by the operator tool
var cliMeta = service.RequestMeta{SourceAddr: "cli", Agent: "ticketauth-admin"}

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Ticketing auth administration tool",
	Long:  "Administrative tool for managing ticketing accounts and the authentication audit log",
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new account",
	RunE:  createUser,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all accounts",
	RunE:  listUsers,
}

var userUnlockCmd = &cobra.Command{
	Use:   "unlock <id>",
	Short: "Clear an account's lock and failure counter",
	Args:  cobra.ExactArgs(1),
	RunE:  unlockUser,
}

var userSetRoleCmd = &cobra.Command{
	Use:   "set-role <id> <role>",
	Short: "Change an account's role",
	Args:  cobra.ExactArgs(2),
	RunE:  setRole,
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Permanently delete an account",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteUser,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect the authentication audit log",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events, newest first",
	RunE:  listLogs,
}

var logsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete audit events older than --days",
	RunE:  purgeLogs,
}

var (
	username string
	email    string
	password string
	role     string
	qrOut    string

	logUserID int64
	logEvent  string
	logLimit  int
	purgeDays int
)

func init() {
	// Root flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/ticketauth/config.yaml", "Config file path")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initApp()
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if instance != nil {
			instance.Close()
		}
	}

	// User create flags
	userCreateCmd.Flags().StringVarP(&username, "username", "u", "", "Username (required)")
	userCreateCmd.Flags().StringVarP(&email, "email", "e", "", "Email address (required)")
	userCreateCmd.Flags().StringVarP(&password, "password", "p", "", "Password (required)")
	userCreateCmd.Flags().StringVarP(&role, "role", "r", string(models.RoleConsumer), "Role: consumer, engineer or admin")
	userCreateCmd.Flags().StringVar(&qrOut, "qr-out", "", "Write the TOTP enrollment QR code PNG to this file")

	userCreateCmd.MarkFlagRequired("username")
	userCreateCmd.MarkFlagRequired("email")
	userCreateCmd.MarkFlagRequired("password")

	// Logs flags
	logsListCmd.Flags().Int64Var(&logUserID, "user-id", 0, "Only events of this account")
	logsListCmd.Flags().StringVar(&logEvent, "event", "", "Only events of this kind, e.g. LOGIN_FAILURE")
	logsListCmd.Flags().IntVar(&logLimit, "limit", 50, "Maximum number of events (0 for all)")
	logsPurgeCmd.Flags().IntVar(&purgeDays, "days", 30, "Retention in days")

	// Add commands
	userCmd.AddCommand(userCreateCmd, userListCmd, userUnlockCmd, userSetRoleCmd, userDeleteCmd)
	logsCmd.AddCommand(logsListCmd, logsPurgeCmd)
	rootCmd.AddCommand(userCmd, logsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initApp() error {
	// Load configuration
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// The tool prints its own results; keep the logger quiet
	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "text"
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	instance, err = app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid account id: %s", s)
	}
	return id, nil
}

func createUser(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	account, err := instance.Service.CreateAccount(ctx, service.RegisterRequest{
		Handle:   username,
		Email:    email,
		Password: password,
		Role:     models.Role(role),
	})
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	uri, err := instance.Service.ProvisioningURI(ctx, account.ID)
	if err != nil {
		return err
	}

	fmt.Printf("\nAccount created successfully!\n")
	fmt.Printf("ID:       %d\n", account.ID)
	fmt.Printf("Username: %s\n", account.Handle)
	fmt.Printf("Email:    %s\n", account.Email)
	fmt.Printf("Role:     %s\n", account.Role)
	fmt.Printf("\nTOTP URI: %s\n", uri)

	if qrOut != "" {
		png, err := instance.Service.EnrollmentPNG(ctx, account.ID)
		if err != nil {
			return err
		}
		if err := os.WriteFile(qrOut, png, 0o600); err != nil {
			return fmt.Errorf("failed to write QR code: %w", err)
		}
		fmt.Printf("TOTP QR:  %s\n", qrOut)
	}

	fmt.Printf("\nScan the QR code with a TOTP app (Google Authenticator, Authy, etc.)\n")
	return nil
}

func listUsers(cmd *cobra.Command, args []string) error {
	accounts, err := instance.Service.ListAccounts(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts found")
		return nil
	}

	fmt.Printf("\nTotal accounts: %d\n\n", len(accounts))
	fmt.Printf("%-5s %-20s %-30s %-10s %-8s %-20s %s\n", "ID", "Username", "Email", "Role", "Failures", "Locked Until", "Created")
	fmt.Println("----------------------------------------------------------------------------------------------------------------------")

	for _, a := range accounts {
		lockedUntil := "-"
		if a.LockedUntil != nil {
			lockedUntil = a.LockedUntil.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-5d %-20s %-30s %-10s %-8d %-20s %s\n",
			a.ID,
			a.Handle,
			a.Email,
			a.Role,
			a.FailedAttempts,
			lockedUntil,
			a.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}

	return nil
}

func unlockUser(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	account, err := instance.Service.Unlock(context.Background(), id, cliMeta)
	if err != nil {
		return fmt.Errorf("failed to unlock account: %w", err)
	}

	fmt.Printf("Account %s unlocked\n", account.Handle)
	return nil
}

func setRole(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	account, err := instance.Service.UpdateRole(context.Background(), id, models.Role(args[1]))
	if err != nil {
		return fmt.Errorf("failed to change role: %w", err)
	}

	fmt.Printf("Account %s is now %s\n", account.Handle, account.Role)
	return nil
}

func deleteUser(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	if err := instance.Service.DeleteAccount(context.Background(), id); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	fmt.Printf("Account %d deleted\n", id)
	return nil
}

func listLogs(cmd *cobra.Command, args []string) error {
	var accountID *int64
	if logUserID > 0 {
		accountID = &logUserID
	}

	events, err := instance.Service.ListEvents(context.Background(), accountID, models.EventKind(logEvent), logLimit)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("No events found")
		return nil
	}

	fmt.Printf("%-20s %-8s %-20s %-30s %-16s %s\n", "Time", "User ID", "Username", "Event", "IP", "User Agent")
	fmt.Println("----------------------------------------------------------------------------------------------------------------------")

	for _, e := range events {
		userID := "-"
		if e.AccountID != nil {
			userID = strconv.FormatInt(*e.AccountID, 10)
		}
		fmt.Printf("%-20s %-8s %-20s %-30s %-16s %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			userID,
			e.Handle,
			e.Kind,
			e.SourceAddr,
			e.UserAgent,
		)
	}

	return nil
}

func purgeLogs(cmd *cobra.Command, args []string) error {
	n, err := instance.Service.PurgeEvents(context.Background(), purgeDays)
	if err != nil {
		return fmt.Errorf("failed to purge events: %w", err)
	}

	fmt.Printf("Deleted %d events older than %d days\n", n, purgeDays)
	return nil
}
