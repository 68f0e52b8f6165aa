package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/wpprelay/internal/client"
	"github.com/matheus3301/wpprelay/internal/config"
	"github.com/matheus3301/wpprelay/internal/lock"
	"github.com/matheus3301/wpprelay/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	pngFlag := flag.String("png", "", "qr: write the QR code to this PNG file instead of the terminal")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// sessions list does not need a running daemon.
	if args[0] == "sessions" {
		if len(args) < 2 || args[1] != "list" {
			fmt.Fprintln(os.Stderr, "usage: relayctl sessions list")
			os.Exit(1)
		}
		cmdSessionsList(*jsonFlag)
		return
	}

	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err != nil {
		fail("%v", err)
	}
	cfg.ApplyEnv(os.Getenv)

	c, err := client.New(session.SocketPath(sessionName), cfg.HTTP.Addr, cfg.HTTP.APIKey)
	if err != nil {
		fail("cannot connect to daemon for session %q: %v", sessionName, err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, sessionName, *jsonFlag)
	case "watch":
		cmdWatch(c, *jsonFlag)
	case "qr":
		cmdQR(ctx, c, *pngFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: relayctl send <jid> <text>")
			os.Exit(1)
		}
		cmdSend(ctx, c, args[1], strings.Join(args[2:], " "), *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: relayctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status             Show connection and daemon status")
	fmt.Fprintln(os.Stderr, "  watch              Stream connection changes until interrupted")
	fmt.Fprintln(os.Stderr, "  qr [--png file]    Show the pending pairing QR code")
	fmt.Fprintln(os.Stderr, "  send <jid> <text>  Send a text message")
	fmt.Fprintln(os.Stderr, "  sessions list      List known sessions")
}

type statusOutput struct {
	Session   string           `json:"session"`
	PID       int              `json:"pid,omitempty"`
	Since     string           `json:"since,omitempty"`
	Serving   bool             `json:"serving"`
	Status    string           `json:"status,omitempty"`
	ChatCount int64            `json:"chatCount"`
	Outcomes  map[string]int64 `json:"outcomes,omitempty"`
	UptimeMs  int64            `json:"uptimeMs,omitempty"`
}

func cmdStatus(ctx context.Context, c *client.Client, sessionName string, jsonOut bool) {
	out := statusOutput{Session: sessionName}

	held, err := lock.Inspect(session.Dir(sessionName))
	if err != nil {
		fail("%v", err)
	}
	if held == nil {
		fail("no daemon running for session %q", sessionName)
	}
	out.PID = held.PID
	if !held.Since.IsZero() {
		out.Since = held.Since.Format(time.RFC3339)
	}

	if out.Serving, err = c.Serving(ctx); err != nil {
		fail("%v", err)
	}
	// The HTTP surface may be bound elsewhere; health alone is enough.
	if s, err := c.Session(ctx); err == nil {
		out.Status = s.Status
		out.ChatCount = s.ChatCount
		out.Outcomes = s.Outcomes
		out.UptimeMs = s.UptimeMs
	} else {
		fmt.Fprintf(os.Stderr, "warning: control surface unavailable: %v\n", err)
	}

	if jsonOut {
		outputJSON(out)
		return
	}
	fmt.Printf("Session: %s\n", out.Session)
	fmt.Printf("PID:     %d\n", out.PID)
	if out.Since != "" {
		fmt.Printf("Since:   %s\n", out.Since)
	}
	fmt.Printf("Serving: %v\n", out.Serving)
	if out.Status != "" {
		fmt.Printf("Status:  %s\n", out.Status)
		fmt.Printf("Chats:   %d\n", out.ChatCount)
		fmt.Printf("Uptime:  %dms\n", out.UptimeMs)
		for outcome, n := range out.Outcomes {
			fmt.Printf("  %-10s %d\n", outcome, n)
		}
	}
}

func cmdWatch(c *client.Client, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := c.Watch(ctx, func(serving bool) {
		now := time.Now().Format(time.RFC3339)
		if jsonOut {
			outputJSON(map[string]any{"time": now, "serving": serving})
			return
		}
		state := "not serving"
		if serving {
			state = "serving"
		}
		fmt.Printf("%s  %s\n", now, state)
	})
	if err != nil {
		fail("%v", err)
	}
}

func cmdQR(ctx context.Context, c *client.Client, pngPath string) {
	if pngPath != "" {
		png, err := c.QRCode(ctx, 512)
		if errors.Is(err, client.ErrNoChallenge) {
			fmt.Println("No pending QR code. The session is paired or still connecting.")
			return
		}
		if err != nil {
			fail("%v", err)
		}
		if err := os.WriteFile(pngPath, png, 0600); err != nil {
			fail("%v", err)
		}
		fmt.Printf("QR code written to %s\n", pngPath)
		return
	}

	st, err := c.Status(ctx)
	if err != nil {
		fail("%v", err)
	}
	if st.QRCode == nil {
		fmt.Printf("No pending QR code. Status: %s\n", st.Status)
		return
	}
	ascii, err := renderQR(*st.QRCode)
	if err != nil {
		fail("render QR: %v", err)
	}
	fmt.Printf("\n  Scan this QR code with WhatsApp:\n\n%s\n", ascii)
}

func cmdSend(ctx context.Context, c *client.Client, jid, text string, jsonOut bool) {
	res, err := c.Send(ctx, jid, text)
	if err != nil {
		fail("%v", err)
	}
	if jsonOut {
		outputJSON(res)
		return
	}
	fmt.Printf("%s (id %s)\n", res.Message, res.ID)
}

type sessionEntry struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	DaemonRunning bool   `json:"daemonRunning"`
	PID           int    `json:"pid,omitempty"`
}

func cmdSessionsList(jsonOut bool) {
	names, err := session.List()
	if err != nil {
		fail("%v", err)
	}
	entries := make([]sessionEntry, 0, len(names))
	for _, name := range names {
		e := sessionEntry{Name: name, Path: session.Dir(name)}
		if held, err := lock.Inspect(e.Path); err == nil && held != nil {
			e.DaemonRunning = true
			e.PID = held.PID
		}
		entries = append(entries, e)
	}

	if jsonOut {
		outputJSON(entries)
		return
	}
	if len(entries) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, e := range entries {
		running := "stopped"
		if e.DaemonRunning {
			running = fmt.Sprintf("running, pid %d", e.PID)
		}
		fmt.Printf("%-20s %s (%s)\n", e.Name, e.Path, running)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
