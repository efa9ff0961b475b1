// Command lifeos operates the Guardian core from the shell: inspect
// projected state, run retrospectives, answer interventions, and manage
// snapshots over the JSONL event log in LIFEOS_DATA_DIR.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/eudaimon-labs/lifeos/core/pkg/canonical"
	"github.com/eudaimon-labs/lifeos/core/pkg/config"
	"github.com/eudaimon-labs/lifeos/core/pkg/event"
	"github.com/eudaimon-labs/lifeos/core/pkg/guardian"
	"github.com/eudaimon-labs/lifeos/core/pkg/observability"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the dispatcher, split out so tests can drive it.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	cfg := config.Load()
	initLogging(cfg.LogLevel, stderr)

	ctx := context.Background()
	obs, err := observability.New(ctx, observability.FromEnv())
	if err != nil {
		fmt.Fprintf(stderr, "observability: %v\n", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(ctx) }()

	cmd := args[1]
	rest := args[2:]

	if cmd == "help" || cmd == "--help" || cmd == "-h" {
		printUsage(stdout)
		return 0
	}

	g, err := guardian.Open(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "open: %v\n", err)
		return 1
	}
	// Count every append regardless of which path wrote it.
	g.Store().AddAppendHook(func(e event.Event, _ int) {
		obs.RecordEventAppended(ctx, e.Type)
	})

	ctx, done := obs.TrackOperation(ctx, "cli."+cmd, attribute.String("command", cmd))
	code, runErr := dispatch(ctx, cmd, rest, g, stdout, stderr)
	done(runErr)
	if runErr != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmd, runErr)
	}
	return code
}

func dispatch(ctx context.Context, cmd string, args []string, g *guardian.Guardian, stdout, stderr io.Writer) (int, error) {
	switch cmd {
	case "state":
		return runState(g, stdout)
	case "retro":
		return runRetro(args, g, stdout, stderr)
	case "response":
		return runResponse(args, g, stdout, stderr)
	case "confirm":
		return runConfirm(args, g, stdout, stderr)
	case "respond":
		return runRespond(args, g, stdout, stderr)
	case "append":
		return runAppend(args, g, stdout, stderr)
	case "tick":
		return runTick(args, g, stdout, stderr)
	case "snapshot":
		return runSnapshot(g, stdout)
	case "verify":
		return runVerify(g, stdout)
	case "mirror":
		return runMirror(ctx, args, g, stdout, stderr)
	case "reload":
		if err := g.Reload(); err != nil {
			return 1, err
		}
		fmt.Fprintln(stdout, "configuration reloaded")
		return 0, nil
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", cmd)
		printUsage(stderr)
		return 2, nil
	}
}

func initLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}

func runState(g *guardian.Guardian, stdout io.Writer) (int, error) {
	st, err := g.State()
	if err != nil {
		return 1, err
	}
	return 0, printJSON(stdout, st)
}

func runRetro(args []string, g *guardian.Guardian, stdout, stderr io.Writer) (int, error) {
	fs := flag.NewFlagSet("retro", flag.ContinueOnError)
	fs.SetOutput(stderr)
	days := fs.Int("days", 7, "lookback window in days")
	if err := fs.Parse(args); err != nil {
		return 2, nil
	}
	report, err := g.Report(*days)
	if err != nil {
		return 1, err
	}
	return 0, printJSON(stdout, report)
}

func runResponse(args []string, g *guardian.Guardian, stdout, stderr io.Writer) (int, error) {
	fs := flag.NewFlagSet("response", flag.ContinueOnError)
	fs.SetOutput(stderr)
	days := fs.Int("days", 7, "lookback window in days")
	if err := fs.Parse(args); err != nil {
		return 2, nil
	}
	resp, err := g.BuildResponse(*days)
	if err != nil {
		return 1, err
	}
	return 0, printJSON(stdout, resp)
}

func runConfirm(args []string, g *guardian.Guardian, stdout, stderr io.Writer) (int, error) {
	fs := flag.NewFlagSet("confirm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	days := fs.Int("days", 7, "lookback window in days")
	fingerprint := fs.String("fingerprint", "", "fingerprint of the presented intervention (required)")
	note := fs.String("note", "", "optional note")
	if err := fs.Parse(args); err != nil {
		return 2, nil
	}
	if *fingerprint == "" {
		fmt.Fprintln(stderr, "confirm: -fingerprint is required")
		return 2, nil
	}
	status, err := g.Confirm(*days, *fingerprint, *note)
	if err != nil {
		return 1, err
	}
	fmt.Fprintln(stdout, status)
	return 0, nil
}

func runRespond(args []string, g *guardian.Guardian, stdout, stderr io.Writer) (int, error) {
	fs := flag.NewFlagSet("respond", flag.ContinueOnError)
	fs.SetOutput(stderr)
	days := fs.Int("days", 7, "lookback window in days")
	fingerprint := fs.String("fingerprint", "", "fingerprint of the presented intervention (required)")
	action := fs.String("action", "", "confirm, snooze or dismiss (required)")
	context := fs.String("context", "", "optional context: recovering, resource_blocked, task_too_big, instinct_escape")
	note := fs.String("note", "", "optional note")
	recovery := fs.String("recovery-step", "", "optional next recovery step")
	if err := fs.Parse(args); err != nil {
		return 2, nil
	}
	if *fingerprint == "" || *action == "" {
		fmt.Fprintln(stderr, "respond: -fingerprint and -action are required")
		return 2, nil
	}
	status, err := g.Respond(*days, *fingerprint, *action, *context, *note, *recovery)
	if err != nil {
		return 1, err
	}
	fmt.Fprintln(stdout, status)
	return 0, nil
}

func runAppend(args []string, g *guardian.Guardian, stdout, stderr io.Writer) (int, error) {
	fs := flag.NewFlagSet("append", flag.ContinueOnError)
	fs.SetOutput(stderr)
	typ := fs.String("type", "", "event type (required)")
	payload := fs.String("payload", "{}", "JSON payload object")
	if err := fs.Parse(args); err != nil {
		return 2, nil
	}
	if *typ == "" {
		fmt.Fprintln(stderr, "append: -type is required")
		return 2, nil
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(*payload), &body); err != nil {
		return 1, fmt.Errorf("payload: %w", err)
	}
	stored, err := g.Store().Append(event.Event{Type: *typ, Payload: body})
	if err != nil {
		return 1, err
	}
	fmt.Fprintln(stdout, stored.EventID)
	return 0, nil
}

func runTick(args []string, g *guardian.Guardian, stdout, stderr io.Writer) (int, error) {
	fs := flag.NewFlagSet("tick", flag.ContinueOnError)
	fs.SetOutput(stderr)
	date := fs.String("date", "", "new current date YYYY-MM-DD (default today)")
	previous := fs.String("previous", "", "previous date YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return 2, nil
	}
	d := *date
	if d == "" {
		d = time.Now().UTC().Format("2006-01-02")
	}
	if err := g.Tick(d, *previous); err != nil {
		return 1, err
	}
	fmt.Fprintf(stdout, "ticked to %s\n", d)
	return 0, nil
}

func runSnapshot(g *guardian.Guardian, stdout io.Writer) (int, error) {
	path, err := g.Checkpoint()
	if err != nil {
		return 1, err
	}
	fmt.Fprintln(stdout, path)
	return 0, nil
}

// runVerify checks that snapshot-and-tail loading agrees with a full
// replay, and that the audit chain is intact.
func runVerify(g *guardian.Guardian, stdout io.Writer) (int, error) {
	loaded, err := g.State()
	if err != nil {
		return 1, err
	}
	replayed, err := g.Rebuild()
	if err != nil {
		return 1, err
	}

	loadedHash, err := canonical.Hash(loaded)
	if err != nil {
		return 1, err
	}
	replayedHash, err := canonical.Hash(replayed)
	if err != nil {
		return 1, err
	}
	if loadedHash != replayedHash {
		return 1, fmt.Errorf("state divergence: snapshot load %s, full replay %s", loadedHash[:12], replayedHash[:12])
	}
	if err := g.Audit().VerifyChain(); err != nil {
		return 1, err
	}
	fmt.Fprintf(stdout, "ok: state %s, audit chain intact\n", loadedHash[:12])
	return 0, nil
}

// runMirror copies the JSONL log into a SQL event store, for backup or
// downstream querying.
func runMirror(ctx context.Context, args []string, g *guardian.Guardian, stdout, stderr io.Writer) (int, error) {
	fs := flag.NewFlagSet("mirror", flag.ContinueOnError)
	fs.SetOutput(stderr)
	driver := fs.String("driver", "sqlite", "sql driver: sqlite or postgres")
	dsn := fs.String("dsn", "", "database DSN (required)")
	if err := fs.Parse(args); err != nil {
		return 2, nil
	}
	if *dsn == "" {
		fmt.Fprintln(stderr, "mirror: -dsn is required")
		return 2, nil
	}

	db, err := sql.Open(*driver, *dsn)
	if err != nil {
		return 1, err
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return 1, fmt.Errorf("connect: %w", err)
	}

	dst, err := event.NewSQLStore(db, *driver)
	if err != nil {
		return 1, err
	}
	events, err := g.Store().All()
	if err != nil {
		return 1, err
	}
	have, err := dst.Count()
	if err != nil {
		return 1, err
	}
	copied := 0
	for _, e := range events[min(have, len(events)):] {
		if _, err := dst.Append(e); err != nil {
			return 1, fmt.Errorf("event %s: %w", e.EventID, err)
		}
		copied++
	}
	fmt.Fprintf(stdout, "mirrored %d event(s) (%d already present)\n", copied, have)
	return 0, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "lifeos: event-sourced Guardian core")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  lifeos <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "STATE:")
	fmt.Fprintln(w, "  state       Print the projected state")
	fmt.Fprintln(w, "  append      Append an event (-type, -payload)")
	fmt.Fprintln(w, "  tick        Record a day boundary and checkpoint (-date, -previous)")
	fmt.Fprintln(w, "  snapshot    Force a snapshot checkpoint")
	fmt.Fprintln(w, "  verify      Check replay equivalence and the audit chain")
	fmt.Fprintln(w, "  mirror      Copy the event log into a SQL store (-driver, -dsn)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "GUARDIAN:")
	fmt.Fprintln(w, "  retro       Print the retrospective report (-days)")
	fmt.Fprintln(w, "  response    Print the full intervention response (-days)")
	fmt.Fprintln(w, "  confirm     Confirm the current intervention (-days, -fingerprint, -note)")
	fmt.Fprintln(w, "  respond     Answer the current intervention (-days, -fingerprint, -action, ...)")
	fmt.Fprintln(w, "  reload      Re-read the configuration overlay")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment: LIFEOS_DATA_DIR, LIFEOS_CONFIG, LOG_LEVEL, LIFEOS_OTLP_ENDPOINT")
}
