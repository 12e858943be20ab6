package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rickgao/livesession/internal/connection"
)

// commandKind identifies what a stdin line asks for.
type commandKind int

const (
	cmdTyping commandKind = iota
	cmdStart
	cmdStop
	cmdCursor
	cmdPresence
	cmdRaw
	cmdReconnect
	cmdDisconnect
	cmdStats
	cmdQuit
	cmdHelp
)

type command struct {
	kind     commandKind
	text     string
	position int
}

const helpText = `commands:
  <text>          send a typing update for the current field
  /start [field]  start editing (switches the current field)
  /stop           stop editing
  /cursor N       send cursor position N
  /presence       request the participant list
  /raw {json}     send a raw JSON frame
  /reconnect      connect again after a disconnect
  /disconnect     close the connection
  /stats          print connection statistics
  /quit           exit`

// parseLine turns one stdin line into a command. Lines that do not start
// with "/" are typing updates.
func parseLine(line string) (command, error) {
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdTyping, text: line}, nil
	}

	name, rest, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "start":
		return command{kind: cmdStart, text: rest}, nil
	case "stop":
		return command{kind: cmdStop}, nil
	case "cursor":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return command{}, fmt.Errorf("cursor position must be an integer: %q", rest)
		}
		return command{kind: cmdCursor, position: n}, nil
	case "presence":
		return command{kind: cmdPresence}, nil
	case "raw":
		if !json.Valid([]byte(rest)) {
			return command{}, errors.New("raw frame must be valid JSON")
		}
		return command{kind: cmdRaw, text: rest}, nil
	case "reconnect":
		return command{kind: cmdReconnect}, nil
	case "disconnect":
		return command{kind: cmdDisconnect}, nil
	case "stats":
		return command{kind: cmdStats}, nil
	case "quit", "exit":
		return command{kind: cmdQuit}, nil
	case "help", "?":
		return command{kind: cmdHelp}, nil
	default:
		return command{}, fmt.Errorf("unknown command /%s (try /help)", name)
	}
}

// session is the part of the manager the command loop drives.
type session interface {
	Connect(address, participantID string) error
	Disconnect()
	Send(message any) error
	StartEditing(field string) error
	StopEditing() error
	SendTyping(field, content string) error
	SendCursorPosition(field string, position int) error
	RequestPresence() error
	Stats() connection.ManagerStats
}

// executor applies commands to a session and tracks the current field.
type executor struct {
	s           session
	address     string
	participant string
	field       string
}

// execute runs cmd. It returns errQuit for /quit; a queued send is not
// an error.
func (e *executor) execute(cmd command) (string, error) {
	var err error
	switch cmd.kind {
	case cmdTyping:
		err = e.s.SendTyping(e.field, cmd.text)
	case cmdStart:
		if cmd.text != "" {
			e.field = cmd.text
		}
		err = e.s.StartEditing(e.field)
	case cmdStop:
		err = e.s.StopEditing()
	case cmdCursor:
		err = e.s.SendCursorPosition(e.field, cmd.position)
	case cmdPresence:
		err = e.s.RequestPresence()
	case cmdRaw:
		err = e.s.Send(json.RawMessage(cmd.text))
	case cmdReconnect:
		return "", e.s.Connect(e.address, e.participant)
	case cmdDisconnect:
		e.s.Disconnect()
		return "", nil
	case cmdStats:
		return formatStats(e.s.Stats()), nil
	case cmdQuit:
		return "", errQuit
	case cmdHelp:
		return helpText, nil
	}

	if errors.Is(err, connection.ErrMessageQueued) {
		return "queued (not connected)", nil
	}
	return "", err
}

var errQuit = errors.New("quit")

func formatStats(s connection.ManagerStats) string {
	return fmt.Sprintf(
		"state=%s generation=%d attempts=%d queued=%d dropped=%d sent=%d received=%d malformed=%d pings=%d heartbeat=%t",
		s.State, s.Generation, s.ReconnectAttempts, s.Queued, s.QueueDropped,
		s.MessagesSent, s.MessagesReceived, s.MalformedFrames, s.PingsSent, s.HeartbeatRunning,
	)
}
