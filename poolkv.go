package poolkv

import (
	"github.com/aalhour/poolkv/config"
	"github.com/aalhour/poolkv/db"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/status"
)

// Engine is an open pool. See db.Engine.
type Engine = db.Engine

// Options carries non-config open settings.
type Options = db.Options

// Config is an ordered set of typed open options.
type Config = config.Config

// Logger is an alias for the logging.Logger interface.
// This allows users to pass their own logger implementation.
type Logger = logging.Logger

// Error is the error type every operation returns.
type Error = status.Error

// Code is an operation outcome.
type Code = status.Code

// Outcome codes.
const (
	OK                    = status.OK
	NotFound              = status.NotFound
	NotSupported          = status.NotSupported
	InvalidArgument       = status.InvalidArgument
	ConfigParsingError    = status.ConfigParsingError
	ConfigTypeError       = status.ConfigTypeError
	StoppedByCallback     = status.StoppedByCallback
	OutOfMemory           = status.OutOfMemory
	WrongEngineName       = status.WrongEngineName
	TransactionScopeError = status.TransactionScopeError
	DefragError           = status.DefragError
	UnknownError          = status.UnknownError
)

// ErrNotFound matches any NOT_FOUND error with errors.Is.
var ErrNotFound = status.ErrNotFound

// NewConfig returns an empty config.
func NewConfig() *Config { return config.New() }

// ConfigFromJSON parses a JSON object into a config.
func ConfigFromJSON(data []byte) (*Config, error) { return config.FromJSON(data) }

// Open opens the named engine with default options. It takes ownership
// of cfg.
func Open(engine string, cfg *Config) (*Engine, error) {
	return db.Open(engine, cfg, nil)
}

// OpenWithOptions is Open with explicit Options.
func OpenWithOptions(engine string, cfg *Config, opts *Options) (*Engine, error) {
	return db.Open(engine, cfg, opts)
}

// Engines lists the registered engine names in order.
func Engines() []string { return db.Engines() }

// CodeOf returns the outcome code of err: OK for nil, UNKNOWN_ERROR for
// errors that did not come from poolkv.
func CodeOf(err error) Code { return status.CodeOf(err) }
