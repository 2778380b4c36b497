// Command poolkv inspects and edits a poolkv pool.
//
// Usage:
//
//	poolkv --engine=<name> --path=<dir> <command> [args]
//
// Commands:
//
//	get <key>          Print the value of a key
//	put <key> <value>  Set a key
//	delete <key>       Remove a key
//	scan               Print records, optionally bounded by --from/--to
//	count              Print the number of records
//	info               Print engine statistics
//	defrag             Compact the pool and checkpoint it
//
// Keys and values prefixed with 0x are decoded as hex.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aalhour/poolkv/config"
	"github.com/aalhour/poolkv/db"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/status"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type cli struct {
	engine          string
	path            string
	jsonConfig      string
	size            int64
	createIfMissing bool
	durability      string
	logLevel        string
	hexOutput       bool
	from, to        string
	limit           int

	stdout io.Writer
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout}
	fs := flag.NewFlagSet("poolkv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&c.engine, "engine", "stree", "engine: "+strings.Join(db.Engines(), ", "))
	fs.StringVar(&c.path, "path", "", "pool directory")
	fs.StringVar(&c.jsonConfig, "json", "", "JSON configuration document, or @file to read one")
	fs.Int64Var(&c.size, "size", 0, "pool capacity in bytes (0 = unbounded)")
	fs.BoolVar(&c.createIfMissing, "create_if_missing", false, "create the pool if it does not exist")
	fs.StringVar(&c.durability, "durability", "", "sync or none")
	fs.StringVar(&c.logLevel, "log_level", "", "debug, info, warn or error")
	fs.BoolVar(&c.hexOutput, "hex", false, "print keys and values as hex")
	fs.StringVar(&c.from, "from", "", "scan keys above this one")
	fs.StringVar(&c.to, "to", "", "scan keys below this one")
	fs.IntVar(&c.limit, "limit", 0, "stop a scan after this many records (0 = unlimited)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: poolkv [flags] <get|put|delete|scan|count|info|defrag> [args]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	if err := c.dispatch(fs.Arg(0), fs.Args()[1:]); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (c *cli) dispatch(command string, args []string) error {
	need := map[string]int{"get": 1, "put": 2, "delete": 1}
	if n, ok := need[command]; ok && len(args) != n {
		return fmt.Errorf("%s takes %d argument(s)", command, n)
	}

	var fn func(e *db.Engine) error
	switch command {
	case "get":
		fn = func(e *db.Engine) error { return c.get(e, args[0]) }
	case "put":
		fn = func(e *db.Engine) error { return e.Put(parseInput(args[0]), parseInput(args[1])) }
	case "delete":
		fn = func(e *db.Engine) error { return e.Remove(parseInput(args[0])) }
	case "scan":
		fn = c.scan
	case "count":
		fn = c.count
	case "info":
		fn = c.info
	case "defrag":
		fn = func(e *db.Engine) error { return e.Defrag(0, 100) }
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	e, err := c.open()
	if err != nil {
		return err
	}
	if err := fn(e); err != nil {
		e.Close()
		return err
	}
	return e.Close()
}

func (c *cli) config() (*config.Config, error) {
	cfg := config.New()
	if c.jsonConfig != "" {
		doc := []byte(c.jsonConfig)
		if name, ok := strings.CutPrefix(c.jsonConfig, "@"); ok {
			data, err := os.ReadFile(name)
			if err != nil {
				return nil, err
			}
			doc = data
		}
		if err := cfg.LoadJSON(doc); err != nil {
			return nil, err
		}
	}
	set := []struct {
		on  bool
		put func() error
	}{
		{c.path != "", func() error { return cfg.PutPath(c.path) }},
		{c.size != 0, func() error { return cfg.PutSize(c.size) }},
		{c.createIfMissing, func() error { return cfg.PutCreateIfMissing(true) }},
		{c.durability != "", func() error { return cfg.PutString(config.KeyDurability, c.durability) }},
		{c.logLevel != "", func() error { return cfg.PutString(config.KeyLogLevel, c.logLevel) }},
	}
	for _, s := range set {
		if !s.on {
			continue
		}
		if err := s.put(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *cli) open() (*db.Engine, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	opts := &db.Options{}
	if c.logLevel == "" {
		opts.Logger = logging.Discard
	}
	return db.Open(c.engine, cfg, opts)
}

func (c *cli) get(e *db.Engine, key string) error {
	return e.Get(parseInput(key), func(v []byte) {
		fmt.Fprintln(c.stdout, c.format(v))
	})
}

func (c *cli) scan(e *db.Engine) error {
	n := 0
	visit := func(k, v []byte) bool {
		fmt.Fprintf(c.stdout, "%s => %s\n", c.format(k), c.format(v))
		n++
		return c.limit <= 0 || n < c.limit
	}
	var err error
	switch from, to := parseInput(c.from), parseInput(c.to); {
	case c.from != "" && c.to != "":
		err = e.GetBetween(from, to, visit)
	case c.from != "":
		err = e.GetAbove(from, visit)
	case c.to != "":
		err = e.GetBelow(to, visit)
	default:
		err = e.GetAll(visit)
	}
	if errors.Is(err, status.ErrStoppedByCallback) {
		err = nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "\n(%d entries scanned)\n", n)
	return nil
}

func (c *cli) count(e *db.Engine) error {
	n, err := e.CountAll()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, n)
	return nil
}

func (c *cli) info(e *db.Engine) error {
	st, err := e.Stats()
	if err != nil {
		return err
	}
	caps := e.Capabilities()
	w := c.stdout
	fmt.Fprintf(w, "engine:              %s\n", st.Engine)
	fmt.Fprintf(w, "records:             %d\n", st.Records)
	fmt.Fprintf(w, "used bytes:          %d\n", st.UsedBytes)
	fmt.Fprintf(w, "capacity:            %d\n", st.Capacity)
	fmt.Fprintf(w, "wal bytes:           %d\n", st.WALBytes)
	fmt.Fprintf(w, "last sequence:       %d\n", st.LastSequence)
	fmt.Fprintf(w, "checkpoint sequence: %d\n", st.CheckpointSequence)
	fmt.Fprintf(w, "sorted:              %v\n", caps.Sorted)
	fmt.Fprintf(w, "persistent:          %v\n", caps.Persistent)
	if st.Detail != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(st.Detail))
	}
	return nil
}

func (c *cli) format(data []byte) string {
	if c.hexOutput {
		return hex.EncodeToString(data)
	}
	for _, b := range data {
		if b < 32 || b > 126 {
			return "0x" + hex.EncodeToString(data)
		}
	}
	return string(data)
}

func parseInput(s string) []byte {
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		if decoded, err := hex.DecodeString(rest); err == nil {
			return decoded
		}
	}
	return []byte(s)
}
