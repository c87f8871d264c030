package common

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/joho/godotenv"
)

const (
	envPathStdin = "stdin"
)

// EnvSource resolves configuration variables. Values from the .env file win,
// the process environment fills in the rest.
type EnvSource struct {
	path    string
	lookup  func(string) (string, bool)
	lock    sync.RWMutex
	values  map[string]string
	missing map[string]struct{}
}

func (es *EnvSource) GetEx(key string) (string, bool) {
	if len(key) == 0 {
		return "", false
	}

	es.lock.RLock()
	v, ok := es.values[key]
	es.lock.RUnlock()

	if ok {
		return v, true
	}

	return es.lookup(key)
}

// Get warns about every unset key once.
func (es *EnvSource) Get(key string) string {
	v, ok := es.GetEx(key)
	if ok {
		return v
	}

	es.lock.Lock()
	_, warned := es.missing[key]
	es.missing[key] = struct{}{}
	es.lock.Unlock()

	if !warned {
		slog.Warn("Environment variable is not set", "key", key)
	}

	return v
}

func (es *EnvSource) Path() string {
	return es.path
}

// Update re-reads the env file. Stdin is consumed once at startup and is
// not re-read.
func (es *EnvSource) Update() error {
	if (len(es.path) == 0) || (es.path == envPathStdin) {
		return nil
	}

	values, err := godotenv.Read(es.path)
	if err != nil {
		return err
	}

	es.lock.Lock()
	changed := len(values) != len(es.values)
	for k, v := range values {
		if old, ok := es.values[k]; !ok || old != v {
			changed = true
		}
	}
	es.values = values
	clear(es.missing)
	es.lock.Unlock()

	slog.Debug("Reloaded env file", "path", es.path, "keys", len(values), "changed", changed)

	return nil
}

func newEnvSource(path string, r io.Reader, lookup func(string) (string, bool)) (*EnvSource, error) {
	values := map[string]string{}

	switch {
	case path == envPathStdin:
		var err error
		if values, err = godotenv.Parse(r); err != nil {
			return nil, err
		}
	case len(path) > 0:
		var err error
		if values, err = godotenv.Read(path); err != nil {
			return nil, err
		}
	}

	return &EnvSource{
		path:    path,
		lookup:  lookup,
		values:  values,
		missing: make(map[string]struct{}),
	}, nil
}

// NewEnvSource reads path as a .env file, "stdin" reads it from standard
// input and an empty path uses the process environment only.
func NewEnvSource(path string) (*EnvSource, error) {
	return newEnvSource(path, os.Stdin, os.LookupEnv)
}
