package resq

import (
	"context"
	"fmt"
	"strings"

	"github.com/benedict-erwin/resq/lua"
	"github.com/redis/go-redis/v9"
)

// scriptRegistry holds loaded Lua scripts keyed by name.
type scriptRegistry struct {
	scripts map[string]*redis.Script
}

// loadScripts reads all .lua files from the embedded FS and registers them.
func loadScripts() (*scriptRegistry, error) {
	sr := &scriptRegistry{scripts: make(map[string]*redis.Script)}

	entries, err := lua.Scripts.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("reading lua scripts dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		data, err := lua.Scripts.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("reading lua script %s: %w", name, err)
		}
		sr.scripts[strings.TrimSuffix(name, ".lua")] = redis.NewScript(string(data))
	}

	return sr, nil
}

// run executes a named Lua script.
func (sr *scriptRegistry) run(ctx context.Context, rdb *redis.Client, name string, keys []string, args ...any) *redis.Cmd {
	script, ok := sr.scripts[name]
	if !ok {
		cmd := redis.NewCmd(ctx)
		cmd.SetErr(fmt.Errorf("lua script %q not found", name))
		return cmd
	}
	return script.Run(ctx, rdb, keys, args...)
}
