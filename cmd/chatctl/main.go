// Command chatctl is the gateway's operator tool. It issues development
// tokens and reads or seeds the gateway database. Commands that open the
// database need the gateway to be stopped: Badger allows one process at a time.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/Tyrowin/gochat-gateway/internal/identity"
	"github.com/Tyrowin/gochat-gateway/internal/store"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"go.uber.org/multierr"
)

type config struct {
	JWTSecret  string `env:"JWT_SECRET"`
	JWTIssuer  string `env:"JWT_ISSUER,default=gochat-gateway"`
	BadgerPath string `env:"BADGER_PATH,default=./data"`
	LogLevel   string `env:"LOG_LEVEL,default=WARN"`
}

const usage = `usage: chatctl <command> [flags]

commands:
  token    -user ID [-name NAME] [-email EMAIL] [-ttl 24h]   print a signed bearer token
  user add -id ID [-name NAME] [-email EMAIL]                register a user in the directory
  user get -id ID                                            print a directory record
  group    -id ID                                            print a group
  history  -conversation ID [-limit N] [-offset N]           print a conversation, newest first
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "chatctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	var cfg config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "token":
		return issueToken(cfg, args[1:], out)
	case "user":
		if len(args) < 2 {
			return errors.New(usage)
		}
		switch args[1] {
		case "add":
			return addUser(ctx, cfg, args[2:], out)
		case "get":
			return getUser(ctx, cfg, args[2:], out)
		}
	case "group":
		return showGroup(ctx, cfg, args[1:], out)
	case "history":
		return showHistory(ctx, cfg, args[1:], out)
	}
	return errors.New(usage)
}

func issueToken(cfg config, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("token", flag.ContinueOnError)
	user := flags.String("user", "", "user id carried as the token subject")
	name := flags.String("name", "", "display name")
	email := flags.String("email", "", "email address")
	ttl := flags.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("token: -user is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("token: JWT_SECRET is not set")
	}
	v := identity.NewJWTVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	token, err := v.Issue(domain.Identity{ID: domain.UserID(*user), DisplayName: *name, Email: *email}, *ttl)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func addUser(ctx context.Context, cfg config, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("user add", flag.ContinueOnError)
	id := flags.String("id", "", "user id")
	name := flags.String("name", "", "display name")
	email := flags.String("email", "", "email address")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("user add: -id is required")
	}
	return withStore(cfg, func(s *store.Store) error {
		if err := s.UpsertUser(ctx, domain.Identity{ID: domain.UserID(*id), DisplayName: *name, Email: *email}); err != nil {
			return err
		}
		u, err := s.GetUser(ctx, domain.UserID(*id))
		if err != nil {
			return err
		}
		return printJSON(out, u)
	})
}

func getUser(ctx context.Context, cfg config, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("user get", flag.ContinueOnError)
	id := flags.String("id", "", "user id")
	if err := flags.Parse(args); err != nil {
		return err
	}
	return withStore(cfg, func(s *store.Store) error {
		u, err := s.GetUser(ctx, domain.UserID(*id))
		if err != nil {
			return err
		}
		return printJSON(out, u)
	})
}

func showGroup(ctx context.Context, cfg config, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("group", flag.ContinueOnError)
	id := flags.String("id", "", "group id")
	if err := flags.Parse(args); err != nil {
		return err
	}
	return withStore(cfg, func(s *store.Store) error {
		g, err := s.GetGroup(ctx, domain.GroupID(*id))
		if err != nil {
			return err
		}
		return printJSON(out, g)
	})
}

func showHistory(ctx context.Context, cfg config, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("history", flag.ContinueOnError)
	conversation := flags.String("conversation", "", "group id or dm:<a>:<b>")
	limit := flags.Int("limit", 50, "page size")
	offset := flags.Int("offset", 0, "messages to skip")
	if err := flags.Parse(args); err != nil {
		return err
	}
	conv, err := domain.ParseConversationID(*conversation)
	if err != nil {
		return err
	}
	return withStore(cfg, func(s *store.Store) error {
		messages, err := s.ListMessages(ctx, conv.ID, *limit, *offset)
		if err != nil {
			return err
		}
		return printJSON(out, messages)
	})
}

func withStore(cfg config, fn func(*store.Store) error) error {
	s, err := store.Open(cfg.BadgerPath, logs.GetLoggerFromString(cfg.LogLevel), 0)
	if err != nil {
		return err
	}
	return multierr.Append(fn(s), s.Close())
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
