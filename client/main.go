package main

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inkforge/coedit/commons"
	"github.com/inkforge/coedit/session"
	"github.com/inkforge/coedit/transport"
)

var logger = logrus.New()

func main() {
	flags := parseFlags()

	logFile, debugLogFile, err := setupLogger(logger)
	if err != nil {
		fmt.Printf("Logger error, exiting: %s", err)
		os.Exit(1)
	}
	defer closeLogFiles(logFile, debugLogFile)

	if flags.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Read the display name.
	fmt.Printf("%s", color.YellowString("Enter your name: "))
	s := bufio.NewScanner(os.Stdin)
	s.Scan()
	name := s.Text()

	scheme := "ws"
	if flags.Secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: flags.Server, Path: "/"}

	tr := transport.NewWebsocket(u.String(), transport.WebsocketOptions{Logger: logger})

	events := session.Events{
		OnUserJoined: func(p commons.Participant) {
			color.Magenta("%s has joined the session!", p.Name)
		},
		OnUserLeft: func(id uuid.UUID) {
			color.Magenta("a collaborator left (%s)", id)
		},
		OnUserCursorUpdate: func(id uuid.UUID, cursor *commons.Cursor) {
			if cursor != nil {
				logger.Debugf("cursor for %s now at %d", id, cursor.Position)
			}
		},
		OnOperationReceived: func(op commons.Operation) {
			color.Cyan("remote %s at %d: %q (len %d)", op.Kind, op.Position, op.Content, op.Length)
		},
		OnProjectUpdate: func(update commons.ProjectUpdate) {
			color.Cyan("project %s %s", update.Kind, update.Verb)
		},
		OnConflictDetected: func(conflict commons.Conflict) {
			color.Red("conflict %s: %s", conflict.ID, conflict.Description)
			color.Red("resolve with: r %s mine|theirs|merge", conflict.ID)
		},
		OnConnectionStatusChanged: func(status transport.Status) {
			color.Yellow("connection: %s", status)
		},
		OnError: func(err error) {
			color.Red("error: %v", err)
		},
	}

	coord := session.New(tr, events, session.Options{Logger: logger})
	if err := coord.Initialize(); err != nil {
		color.Red("Connection error, exiting: %s", err)
		os.Exit(0)
	}

	sess, err := coord.JoinSession(flags.Project, commons.Profile{Name: name})
	if err != nil {
		color.Red("Join error, exiting: %s", err)
		coord.Disconnect()
		os.Exit(0)
	}

	color.Green("\nWelcome %s!\n", name)
	color.Green("Editing %q with %d collaborator(s)\n", sess.ProjectID, len(sess.Participants)-1)
	color.Yellow("Commands: i <pos> <text> | d <pos> <len> | c <pos> | r <conflict-id> <kind> | q\n")

	repl(s, coord)
	coord.Disconnect()
	fmt.Println("Goodbye!")
}

// repl reads commands from stdin until quit or EOF.
func repl(s *bufio.Scanner, coord *session.Coordinator) {
	for {
		fmt.Print("> ")
		if !s.Scan() {
			return
		}
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "q":
			return

		case "i":
			pos, text, err := insertArgs(line)
			if err != nil {
				color.Red("usage: i <pos> <text> (%v)", err)
				continue
			}
			if err := coord.SendOperation(commons.Operation{Kind: commons.OpInsert, Position: pos, Content: text}); err != nil {
				color.Red("insert failed: %v", err)
			}

		case "d":
			if len(fields) < 3 {
				color.Red("usage: d <pos> <len>")
				continue
			}
			pos, err1 := strconv.Atoi(fields[1])
			length, err2 := strconv.Atoi(fields[2])
			if err1 != nil || err2 != nil {
				color.Red("bad position or length")
				continue
			}
			if err := coord.SendOperation(commons.Operation{Kind: commons.OpDelete, Position: pos, Length: length}); err != nil {
				color.Red("delete failed: %v", err)
			}

		case "c":
			if len(fields) < 2 {
				color.Red("usage: c <pos>")
				continue
			}
			pos, err := strconv.Atoi(fields[1])
			if err != nil {
				color.Red("bad position: %v", err)
				continue
			}
			coord.UpdateCursor(commons.Cursor{Position: pos})

		case "r":
			if len(fields) < 3 {
				color.Red("usage: r <conflict-id> mine|theirs|merge")
				continue
			}
			conflictID, err := uuid.Parse(fields[1])
			if err != nil {
				color.Red("bad conflict id: %v", err)
				continue
			}
			kind := commons.ResolutionKind(fields[2])
			switch fields[2] {
			case "mine":
				kind = commons.ResolveAcceptMine
			case "theirs":
				kind = commons.ResolveAcceptTheirs
			case "merge":
				kind = commons.ResolveMerge
			}
			if err := coord.ResolveConflict(conflictID, commons.Resolution{Kind: kind}); err != nil {
				color.Red("resolve failed: %v", err)
			}

		default:
			color.Red("unknown command %q", fields[0])
		}
	}
}

// insertArgs parses an insert command of the form "i <pos> <text>". The
// text is everything after the position token, so it may itself contain
// spaces.
func insertArgs(line string) (int, string, error) {
	rest := strings.TrimLeft(strings.TrimPrefix(line, "i"), " ")
	posTok, text, ok := strings.Cut(rest, " ")
	text = strings.TrimLeft(text, " ")
	if !ok || text == "" {
		return 0, "", errors.New("missing position or text")
	}
	pos, err := strconv.Atoi(posTok)
	if err != nil {
		return 0, "", fmt.Errorf("bad position %q", posTok)
	}
	return pos, text, nil
}
