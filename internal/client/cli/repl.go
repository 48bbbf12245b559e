package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Me(ctx context.Context) error
	Status(ctx context.Context) error
	ChangePassword(ctx context.Context) error
	Logout(ctx context.Context) error
	LogoutAll(ctx context.Context) error
	Watch(ctx context.Context, projectID string) error
	Unwatch(ctx context.Context) error
	Send(ctx context.Context, event, body string) error
}

// runREPL reads a line from scanner, parses the first token as the command
// and dispatches to a. The loop exits on EOF or on "exit"/"quit".
//
//	Not logged in:
//	  help, register, login, status, exit | quit
//
//	Logged in:
//	  help, me, status, passwd, watch <projectId>, unwatch,
//	  send <event> [json], logout, logoutall, exit | quit
//
// Handlers log their own failures; errors that come back are only echoed.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("plotroom %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		if cmd == "" {
			continue
		}

		var err error

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: me, status, passwd, watch <projectId>, unwatch, send <event> [json], logout, logoutall, exit")
			} else {
				printlnFn("Available commands: register, login, status, exit")
			}

		case "register":
			err = a.Register(ctx)

		case "login":
			err = a.Login(ctx)

		case "status":
			err = a.Status(ctx)

		case "me":
			err = a.Me(ctx)

		case "passwd":
			err = a.ChangePassword(ctx)

		case "watch":
			if rest == "" {
				printlnFn("Usage: watch <projectId>")
				continue
			}
			err = a.Watch(ctx, rest)

		case "unwatch":
			err = a.Unwatch(ctx)

		case "send":
			event, body, _ := strings.Cut(rest, " ")
			if event == "" {
				printlnFn("Usage: send <event> [json]")
				continue
			}
			err = a.Send(ctx, event, strings.TrimSpace(body))

		case "logout":
			err = a.Logout(ctx)

		case "logoutall":
			err = a.LogoutAll(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("error:", err)
		}
	}
}
