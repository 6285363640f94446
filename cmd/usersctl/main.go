// Command usersctl performs administrative account operations that the HTTP
// API deliberately does not expose.
//
//	usersctl migrate
//	usersctl create-admin -username admin -email admin@example.com
//	usersctl set-role -username bob -role admin
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Dan9191/devsecops-api/internal/auth"
	"github.com/Dan9191/devsecops-api/internal/config"
	"github.com/Dan9191/devsecops-api/internal/models"
	"github.com/Dan9191/devsecops-api/internal/repository"
	"github.com/Dan9191/devsecops-api/internal/service"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

const usage = `usage: usersctl <command> [flags]

commands:
  migrate                                  apply database migrations
  create-admin -username NAME -email ADDR  create an admin account (password read from the terminal)
  set-role -username NAME -role ROLE       change the role of an existing account
`

var stdin = bufio.NewReader(os.Stdin)

type app struct {
	db           *sql.DB
	repo         *repository.Repository
	hasher       service.PasswordHasher
	policy       service.PasswordPolicy
	readPassword func(prompt string) (string, error)
	out          io.Writer
	log          *logrus.Logger
}

func main() {
	logger := logrus.New()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	hasher, err := auth.NewHasher(cfg.BcryptCost)
	if err != nil {
		logger.Fatalf("Invalid bcrypt cost: %v", err)
	}

	a := &app{
		db:           db,
		repo:         repository.NewRepository(db),
		hasher:       hasher,
		policy:       service.DefaultPasswordPolicy(),
		readPassword: promptPassword,
		out:          os.Stdout,
		log:          logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := a.run(ctx, os.Args[1:]); err != nil {
		cancel()
		logger.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("missing command")
	}
	switch args[0] {
	case "migrate":
		return a.migrate(ctx)
	case "create-admin":
		return a.createAdmin(ctx, args[1:])
	case "set-role":
		return a.setRole(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (a *app) migrate(ctx context.Context) error {
	if err := repository.Migrate(ctx, a.db); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "migrations applied")
	return nil
}

func (a *app) createAdmin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.SetOutput(a.out)
	username := fs.String("username", "", "account username")
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *email == "" {
		return errors.New("-username and -email are required")
	}

	password, err := a.readPassword("Password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if problems := a.policy.Check(password); len(problems) > 0 {
		return fmt.Errorf("weak password: %s", strings.Join(problems, "; "))
	}
	confirm, err := a.readPassword("Confirm password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if confirm != password {
		return errors.New("passwords do not match")
	}

	hash, err := a.hasher.Hash(password)
	if err != nil {
		return err
	}
	user := &models.User{
		Username:     *username,
		Email:        strings.ToLower(strings.TrimSpace(*email)),
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}
	if err := a.repo.CreateUser(ctx, user); err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("Admin account created")
	fmt.Fprintf(a.out, "admin %s created with id %d\n", user.Username, user.ID)
	return nil
}

func (a *app) setRole(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-role", flag.ContinueOnError)
	fs.SetOutput(a.out)
	username := fs.String("username", "", "account username")
	role := fs.String("role", "", "new role (user or admin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("-username is required")
	}
	if !models.Role(*role).Valid() {
		return fmt.Errorf("role must be %q or %q", models.RoleUser, models.RoleAdmin)
	}

	if err := a.repo.UpdateRole(ctx, *username, models.Role(*role)); err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{"username": *username, "role": *role}).Info("Role changed")
	fmt.Fprintf(a.out, "%s is now %s\n", *username, *role)
	return nil
}

// promptPassword reads without echo from a terminal, or a line from piped stdin.
func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdin.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
