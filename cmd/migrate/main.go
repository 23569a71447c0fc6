package main

import (
	"database/sql"
	"flag"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/saasdash/backend/internal/infrastructure/config"
	"github.com/saasdash/backend/internal/infrastructure/logger"
	"github.com/saasdash/backend/internal/infrastructure/migration"
	"go.uber.org/zap"
)

const sourceTree = "internal/infrastructure/migration/sql"

type command struct {
	usage string
	args  int // required positional arguments after the command name
	// offline commands work on the source tree and never open the database
	offline bool
	run     func(env *env, args []string) error
}

type env struct {
	log      *zap.Logger
	dir      string
	migrator *migration.Migrator
}

var commands = map[string]command{
	"up":   {usage: "up", run: func(e *env, _ []string) error { return e.migrator.Up() }},
	"down": {usage: "down", run: func(e *env, _ []string) error { return e.migrator.Down() }},
	"step": {usage: "step <n>", args: 1, run: func(e *env, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid step count %q", args[0])
		}
		return e.migrator.Steps(n)
	}},
	"goto": {usage: "goto <version>", args: 1, run: func(e *env, args []string) error {
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		return e.migrator.GoTo(uint(v))
	}},
	"force": {usage: "force <version>", args: 1, run: func(e *env, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		return e.migrator.Force(v)
	}},
	"drop": {usage: "drop -confirm", run: func(e *env, args []string) error {
		if !slices.Contains(args, "-confirm") && !slices.Contains(args, "--confirm") {
			return fmt.Errorf("drop needs -confirm")
		}
		return e.migrator.Drop()
	}},
	"status": {usage: "status", run: func(e *env, _ []string) error {
		s, err := e.migrator.Status()
		if err != nil {
			return err
		}
		e.log.Info("Schema status",
			zap.Uint("current", s.Current),
			zap.Uint("latest", s.Latest),
			zap.Bool("dirty", s.Dirty),
			zap.Bool("pending", s.Pending()))
		return nil
	}},
	"create": {usage: "create <name> [description]", args: 1, offline: true, run: func(e *env, args []string) error {
		description := ""
		if len(args) > 1 {
			description = args[1]
		}
		pair, err := migration.CreatePair(e.dir, args[0], description, time.Now())
		if err != nil {
			return err
		}
		e.log.Info("Migration created",
			zap.Uint("version", pair.Version),
			zap.String("up_file", pair.UpPath),
			zap.String("down_file", pair.DownPath))
		return nil
	}},
	"list": {usage: "list", offline: true, run: func(e *env, _ []string) error {
		entries, err := migration.Scan(os.DirFS(e.dir))
		if err != nil {
			return err
		}
		for _, entry := range entries {
			fmt.Printf("  %6d  %s\n", entry.Version, entry.Name)
		}
		return nil
	}},
}

func main() {
	var dir, logLevel string
	flag.StringVar(&dir, "path", "", "Migrations directory; the embedded set is used when empty (create/list use "+sourceTree+")")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	cmd, ok := commands[args[0]]
	if !ok || len(args)-1 < cmd.args {
		printUsage()
		os.Exit(2)
	}

	logCfg := logger.ForEnvironment("development")
	logCfg.Level = logLevel
	log, err := logger.New(logCfg, "meter-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	e := &env{log: log, dir: dir}
	if cmd.offline {
		if e.dir == "" {
			e.dir = sourceTree
		}
	} else {
		m, err := openMigrator(dir, log)
		if err != nil {
			log.Fatal("Failed to create migrator", zap.Error(err))
		}
		defer func() {
			if err := m.Close(); err != nil {
				log.Warn("Failed to close migrator", zap.Error(err))
			}
		}()
		e.migrator = m
	}

	if err := cmd.run(e, args[1:]); err != nil {
		log.Error("Migration command failed", zap.String("command", args[0]), zap.Error(err))
		os.Exit(1)
	}
}

func openMigrator(dir string, log *zap.Logger) (*migration.Migrator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dir != "" {
		return migration.NewFromDir(databaseURL(&cfg.Database), dir, os.DirFS(dir), log)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return migration.New(db, log)
}

func databaseURL(d *config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

func printUsage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Fprintln(os.Stderr, "Usage: migrate [-path dir] [-log-level level] <command>")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	for _, name := range names {
		fmt.Fprintln(os.Stderr, "  "+commands[name].usage)
	}
	fmt.Fprintln(os.Stderr, "\nDatabase settings come from config.toml and METER_DATABASE_* variables.")
}
