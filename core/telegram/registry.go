package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/core/logger"
	"github.com/m3rciful/v2raybot/core/telegram/commands"
	"github.com/m3rciful/v2raybot/core/telegram/state"
)

type callbackRoute struct {
	pattern *regexp.Regexp
	def     commands.Callback
}

// Registry holds bot commands, callback patterns and state consumers.
type Registry struct {
	commands    map[string]commands.Command
	callbacks   []callbackRoute
	callbacksMu sync.RWMutex
	consumers   map[state.State]commands.Consumer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]commands.Command),
		consumers: make(map[state.State]commands.Consumer),
	}
}

// RegisterCommand adds a new command.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) {
	if r == nil || name == "" || cmd.Handler == nil || cmd.Description == "" {
		logger.Warn(context.Background(), "tg.wire", "register.command.skip",
			slog.String("name", name),
			slog.String("reason", "invalid"),
		)
		return
	}
	if name[0] != '/' {
		logger.Warn(context.Background(), "tg.wire", "register.command.skip",
			slog.String("name", name),
			slog.String("reason", "no_slash_prefix"),
		)
		return
	}
	if _, exists := r.commands[name]; exists {
		logger.Warn(context.Background(), "tg.wire", "register.command.duplicate",
			slog.String("name", name),
		)
		return
	}
	r.commands[name] = cmd
}

// ListCommands returns a slice of tele.Command, optionally filtering out hidden and admin-only commands.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	var list []tele.Command
	for cmd, meta := range r.commands {
		if visibleOnly && (meta.Hidden || meta.AdminOnly) {
			continue
		}
		list = append(list, tele.Command{Text: strings.TrimPrefix(cmd, "/"), Description: meta.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// LookupCommand searches for a command by name or its aliases and returns the canonical key with metadata if found.
func (r *Registry) LookupCommand(name string) (string, commands.Command, bool) {
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	if cmd, ok := r.commands[name]; ok {
		return name, cmd, true
	}
	for key, cmd := range r.commands {
		for _, alias := range cmd.Aliases {
			if alias == name || "/"+alias == name {
				return key, cmd, true
			}
		}
	}
	return "", commands.Command{}, false
}

// Commands returns all registered commands.
func (r *Registry) Commands() map[string]commands.Command {
	return r.commands
}

// RegisterCallback maps callback data matching pattern to a handler. The
// pattern is anchored at both ends; its groups become the request arguments.
// Patterns are tried in registration order.
func (r *Registry) RegisterCallback(pattern string, def commands.Callback) error {
	if r == nil || pattern == "" || def.Handler == nil {
		logger.Warn(context.Background(), "tg.wire", "register.callback.skip",
			slog.String("pattern", pattern),
			slog.Bool("handler_nil", def.Handler == nil),
		)
		return errors.New("invalid callback registration")
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return fmt.Errorf("callback pattern %q: %w", pattern, err)
	}
	if def.Name == "" {
		def.Name = pattern
	}
	r.callbacksMu.Lock()
	defer r.callbacksMu.Unlock()
	for _, existing := range r.callbacks {
		if existing.pattern.String() == re.String() {
			logger.Warn(context.Background(), "tg.wire", "register.callback.duplicate",
				slog.String("pattern", pattern),
			)
			return fmt.Errorf("callback already registered: %s", pattern)
		}
	}
	r.callbacks = append(r.callbacks, callbackRoute{pattern: re, def: def})
	return nil
}

// MatchCallback returns the first callback whose pattern matches data along
// with the captured groups.
func (r *Registry) MatchCallback(data string) (commands.Callback, []string, bool) {
	r.callbacksMu.RLock()
	defer r.callbacksMu.RUnlock()
	for _, route := range r.callbacks {
		if m := route.pattern.FindStringSubmatch(data); m != nil {
			return route.def, m[1:], true
		}
	}
	return commands.Callback{}, nil, false
}

// ListCallbacks returns the callback names in registration order (for diagnostics).
func (r *Registry) ListCallbacks() []string {
	r.callbacksMu.RLock()
	defer r.callbacksMu.RUnlock()
	names := make([]string, 0, len(r.callbacks))
	for _, route := range r.callbacks {
		names = append(names, route.def.Name)
	}
	return names
}

// RegisterConsumer sets the handler for input received in a pending state.
func (r *Registry) RegisterConsumer(c commands.Consumer) {
	if r == nil || c.Handler == nil || c.State == "" || c.State == state.StateIdle {
		logger.Warn(context.Background(), "tg.wire", "register.consumer.skip",
			slog.String("state", string(c.State)),
		)
		return
	}
	r.consumers[c.State] = c
}

// Consumer returns the consumer registered for st.
func (r *Registry) Consumer(st state.State) (commands.Consumer, bool) {
	c, ok := r.consumers[st]
	return c, ok
}

// InitBotCommands sets the Telegram bot commands shown in the command menu.
func InitBotCommands(bot *tele.Bot, reg *Registry) {
	commands := reg.ListCommands(true)
	if err := bot.SetCommands(commands); err != nil {
		logger.Error(context.Background(), "tg.wire", "register.commands.set_failed",
			slog.String("err", err.Error()),
		)
	}
}
