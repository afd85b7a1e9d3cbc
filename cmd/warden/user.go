package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/warden/internal/auth"
	"github.com/ernie/warden/internal/dispatch"
	"github.com/ernie/warden/internal/storage"
)

func cmdUser(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: user subcommand required: add, remove, list, groups\n")
		os.Exit(1)
	}
	subCmd := args[0]

	fs := flag.NewFlagSet("user "+subCmd, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	dbPath := fs.String("db", "", "database path (overrides config)")
	groups := fs.StringSlice("group", []string{"moderator"}, "group to join (repeatable)")
	guid := fs.String("guid", "", "in-game guid to map to this user")
	fs.Parse(args[1:])

	path := *dbPath
	if path == "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		path = cfg.Database.Path
	}

	store, err := storage.New(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	// Groups must exist before users can join them
	if err := store.Seed(ctx, dispatch.DefaultCommands()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch subCmd {
	case "add":
		err = cmdUserAdd(ctx, store, fs.Args(), *groups, *guid)
	case "remove":
		err = cmdUserRemove(ctx, store, fs.Args())
	case "list":
		err = cmdUserList(ctx, store)
	case "groups":
		err = cmdUserGroups(ctx, store, fs.Args())
	default:
		err = fmt.Errorf("unknown user command: %s (use: add, remove, list, groups)", subCmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdUserAdd(ctx context.Context, store *storage.Store, args, groups []string, guid string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: warden user add [--group G]... [--guid GUID] <username>")
	}
	username := args[0]

	if _, err := store.GetUserByUsername(ctx, username); err == nil {
		return fmt.Errorf("user '%s' already exists", username)
	}
	if guid != "" {
		if _, err := store.GetUserByGUID(ctx, guid); err == nil {
			return fmt.Errorf("guid %s is already mapped to another user", guid)
		}
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	var guidPtr *string
	if guid != "" {
		guidPtr = &guid
	}
	user, err := store.CreateUser(ctx, username, hash, guidPtr, groups)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	fmt.Printf("User '%s' created (groups: %s)\n", user.Username, strings.Join(user.Groups, ", "))
	return nil
}

func promptPassword() (string, error) {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if string(password) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(password), nil
}

func cmdUserRemove(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: warden user remove <username>")
	}
	if err := store.DeleteUser(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to remove user: %w", err)
	}
	fmt.Printf("User '%s' removed\n", args[0])
	return nil
}

func cmdUserList(ctx context.Context, store *storage.Store) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	if len(users) == 0 {
		fmt.Println("No users configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tGROUPS\tGUID\tLAST_LOGIN")
	fmt.Fprintln(w, "--------\t------\t----\t----------")
	for _, user := range users {
		guid := "-"
		if user.GUID != nil {
			guid = *user.GUID
		}
		lastLogin := "never"
		if user.LastLogin != nil {
			lastLogin = user.LastLogin.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", user.Username, strings.Join(user.Groups, ","), guid, lastLogin)
	}
	return w.Flush()
}

func cmdUserGroups(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: warden user groups <username> <group>...")
	}
	user, err := store.GetUserByUsername(ctx, args[0])
	if err != nil {
		return err
	}
	if err := store.SetUserGroups(ctx, user.ID, args[1:]); err != nil {
		return fmt.Errorf("failed to set groups: %w", err)
	}
	fmt.Printf("User '%s' groups: %s\n", user.Username, strings.Join(args[1:], ", "))
	return nil
}
