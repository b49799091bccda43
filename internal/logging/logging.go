package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Mode controls the handler style used when constructing a logger.
type Mode int

const (
	// ModeCLI renders log records in a terse text-oriented format.
	ModeCLI Mode = iota
	// ModeJSON renders log records as JSON.
	ModeJSON
	// ModeActions renders records as GitHub Actions workflow commands so that
	// warnings and errors surface as annotations on the run.
	ModeActions
)

// ParseMode maps a flag value onto a Mode.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "cli", "text":
		return ModeCLI, nil
	case "json":
		return ModeJSON, nil
	case "actions", "github":
		return ModeActions, nil
	default:
		return ModeCLI, fmt.Errorf("unknown log format %q", value)
	}
}

// DetectMode picks ModeActions when running inside a GitHub Actions job.
func DetectMode(lookup func(string) (string, bool)) Mode {
	if lookup == nil {
		return ModeCLI
	}
	if value, ok := lookup("GITHUB_ACTIONS"); ok && strings.EqualFold(value, "true") {
		return ModeActions
	}
	return ModeCLI
}

// New constructs a logger targeting the provided writer using the requested mode.
// If level is nil, slog.LevelInfo is used.
func New(mode Mode, w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		panic("logging: writer must not be nil")
	}
	if level == nil {
		level = slog.LevelInfo
	}

	switch mode {
	case ModeJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	case ModeActions:
		return slog.New(newTextHandler(w, level, true))
	default:
		return slog.New(newTextHandler(w, level, false))
	}
}

// NewCLI constructs a logger that emits human-readable records suitable for CLI use.
func NewCLI(w io.Writer, level slog.Leveler) *slog.Logger {
	return New(ModeCLI, w, level)
}

// Ensure returns the provided logger or the process default if nil.
func Ensure(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }

// textHandler shares its writer lock across clones so interleaved records
// from derived loggers never tear.
type textHandler struct {
	writer  io.Writer
	level   slog.Leveler
	actions bool

	mu     *sync.Mutex
	attrs  []boundAttr
	groups []string
}

// boundAttr remembers the groups that were open when the attr was attached.
type boundAttr struct {
	groups []string
	attr   slog.Attr
}

func newTextHandler(w io.Writer, level slog.Leveler, actions bool) slog.Handler {
	return &textHandler{
		writer:  w,
		level:   level,
		actions: actions,
		mu:      &sync.Mutex{},
	}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= currentLevel(h.level)
}

func (h *textHandler) Handle(_ context.Context, record slog.Record) error {
	var builder strings.Builder

	if h.actions {
		builder.WriteString(workflowCommand(record.Level))
	} else {
		timestamp := record.Time
		if timestamp.IsZero() {
			timestamp = time.Now()
		}
		builder.WriteString(strings.ToUpper(record.Level.String()))
		builder.WriteByte(' ')
		builder.WriteString(timestamp.UTC().Format(time.RFC3339))
		builder.WriteString(" | ")
	}
	builder.WriteString(record.Message)

	for _, bound := range h.attrs {
		h.appendAttr(&builder, bound.groups, bound.attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		h.appendAttr(&builder, h.groups, attr)
		return true
	})

	builder.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := io.WriteString(h.writer, builder.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cloned := h.clone()
	for _, attr := range attrs {
		cloned.attrs = append(cloned.attrs, boundAttr{groups: h.groups, attr: attr})
	}
	return cloned
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cloned := h.clone()
	cloned.groups = append(cloned.groups, name)
	return cloned
}

func (h *textHandler) clone() *textHandler {
	return &textHandler{
		writer:  h.writer,
		level:   h.level,
		actions: h.actions,
		mu:      h.mu,
		attrs:   append([]boundAttr(nil), h.attrs...),
		groups:  append([]string(nil), h.groups...),
	}
}

func (h *textHandler) appendAttr(builder *strings.Builder, groups []string, attr slog.Attr) {
	value := resolveValue(attr.Value)
	if value.Kind() == slog.KindGroup {
		nested := append(append([]string(nil), groups...), attr.Key)
		for _, child := range value.Group() {
			h.appendAttr(builder, nested, child)
		}
		return
	}

	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(append(append([]string(nil), groups...), key), ".")
	}

	builder.WriteByte(' ')
	builder.WriteString(key)
	builder.WriteByte('=')
	builder.WriteString(formatValue(value))
}

// workflowCommand returns the GitHub Actions prefix for a level.
// Debug maps to ::debug:: which the runner hides unless step debugging is on.
func workflowCommand(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "::error::"
	case level >= slog.LevelWarn:
		return "::warning::"
	case level < slog.LevelInfo:
		return "::debug::"
	default:
		return ""
	}
}

func formatValue(value slog.Value) string {
	value = resolveValue(value)
	switch value.Kind() {
	case slog.KindString:
		return quoteIfNeeded(value.String())
	case slog.KindInt64:
		return strconv.FormatInt(value.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(value.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(value.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(value.Bool())
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		switch v := value.Any().(type) {
		case error:
			if v != nil {
				return quoteIfNeeded(v.Error())
			}
		case []string:
			return quoteIfNeeded(strings.Join(v, " "))
		}
		return quoteIfNeeded(fmt.Sprint(value.Any()))
	default:
		return value.String()
	}
}

// quoteIfNeeded keeps single-token values bare and quotes values with
// whitespace so command lines stay readable in a k=v stream.
func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"") {
		return strconv.Quote(s)
	}
	return s
}

func currentLevel(level slog.Leveler) slog.Level {
	if level == nil {
		return slog.LevelInfo
	}
	return level.Level()
}

func resolveValue(value slog.Value) slog.Value {
	for i := 0; i < 4; i++ {
		if value.Kind() != slog.KindLogValuer {
			return value
		}
		value = value.Resolve()
	}
	return value
}
