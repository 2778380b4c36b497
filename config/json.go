package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"

	"github.com/aalhour/poolkv/status"
)

// FromJSON parses a JSON object into a new Config.
//
// Integers map to int options, strings to string options, booleans to 0/1
// and nested objects to object options. Anything else (arrays, floats, null,
// a non-object top level, duplicate keys, trailing data) is a
// CONFIG_PARSING_ERROR.
func FromJSON(data []byte) (*Config, error) {
	c := New()
	if err := c.LoadJSON(data); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadJSON merges the options of a JSON object into c, last write wins.
func (c *Config) LoadJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return parseErr(err, "read top level")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return status.New(status.ConfigParsingError, "top level must be an object")
	}
	parsed, err := decodeObject(dec)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return status.New(status.ConfigParsingError, "trailing data after object")
	}

	parsed.mu.Lock()
	entries := parsed.entries
	parsed.mu.Unlock()
	for k, e := range entries {
		if err := c.put(k, e); err != nil {
			return err
		}
	}
	return nil
}

// decodeObject reads members up to and including the closing '}'.
func decodeObject(dec *json.Decoder) (*Config, error) {
	c := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, parseErr(err, "read key")
		}
		name, ok := tok.(string)
		if !ok {
			return nil, status.New(status.ConfigParsingError, "object key is not a string")
		}
		if _, dup := c.entries[name]; dup {
			return nil, status.Errorf(status.ConfigParsingError, "duplicate option %q", name)
		}
		e, err := decodeValue(dec, name)
		if err != nil {
			return nil, err
		}
		c.entries[name] = e
	}
	if _, err := dec.Token(); err != nil {
		return nil, parseErr(err, "close object")
	}
	return c, nil
}

func decodeValue(dec *json.Decoder, name string) (entry, error) {
	tok, err := dec.Token()
	if err != nil {
		return entry{}, parseErr(err, "read value of "+strconv.Quote(name))
	}
	switch v := tok.(type) {
	case json.Number:
		i, err := strconv.ParseInt(v.String(), 10, 64)
		if err != nil {
			return entry{}, status.Errorf(status.ConfigParsingError, "option %q: %s is not an integer", name, v)
		}
		return entry{kind: KindInt, i: i}, nil
	case string:
		return entry{kind: KindString, s: v}, nil
	case bool:
		return entry{kind: KindInt, i: boolInt(v)}, nil
	case json.Delim:
		if v == '{' {
			sub, err := decodeObject(dec)
			if err != nil {
				return entry{}, err
			}
			return entry{kind: KindObject, obj: sub}, nil
		}
		return entry{}, status.Errorf(status.ConfigParsingError, "option %q: arrays are not supported", name)
	case nil:
		return entry{}, status.Errorf(status.ConfigParsingError, "option %q: null is not supported", name)
	}
	return entry{}, status.Errorf(status.ConfigParsingError, "option %q: unexpected token %v", name, tok)
}

func parseErr(err error, what string) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return status.Wrap(status.ConfigParsingError, err, what)
}
