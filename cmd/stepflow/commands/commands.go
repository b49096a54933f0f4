package commands

import (
	"context"
	"io"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/stepflow/internal/conventions"
	"github.com/slok/stepflow/internal/log"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"

	// StoreSQLite stores the records in a SQLite database.
	StoreSQLite = "sqlite"
	// StoreFile stores the records as JSON files.
	StoreFile = "file"

	formatTable = "table"
	formatJSON  = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string
	DataDir    string
	Store      string
	DBPath     string
	PolicyPath string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("data-dir", "Directory of the stepflow data.").Default(defaultDataDir).StringVar(&c.DataDir)
	app.Flag("store", "Checkpoint and goal store.").Default(StoreSQLite).EnumVar(&c.Store, StoreSQLite, StoreFile)
	app.Flag("db-path", "Path to the SQLite database file (defaults to the data dir).").StringVar(&c.DBPath)
	app.Flag("policy", "Safety policy file extending the default policy (defaults to the data dir policy when it exists).").StringVar(&c.PolicyPath)

	return c
}

func (c *RootCommand) dbPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return conventions.DBPath(c.DataDir)
}
