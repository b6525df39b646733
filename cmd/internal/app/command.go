package app

import "strings"

type cmdKind int

const (
	cmdNone cmdKind = iota
	cmdSay
	cmdLogin
	cmdRooms
	cmdOpen
	cmdNew
	cmdAnalyze
	cmdQuit
	cmdUnknown
)

type command struct {
	name cmdKind
	arg  string
	rest string
}

// parseCommand splits one prompt line. Lines starting with "/" are commands;
// everything else is a chat message.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{name: cmdNone}
	}
	if !strings.HasPrefix(line, "/") {
		return command{name: cmdSay, rest: line}
	}

	head, tail, _ := strings.Cut(line, " ")
	tail = strings.TrimSpace(tail)

	switch head {
	case "/login":
		return command{name: cmdLogin}
	case "/rooms":
		return command{name: cmdRooms}
	case "/quit", "/exit":
		return command{name: cmdQuit}
	case "/open":
		return command{name: cmdOpen, arg: tail}
	case "/new":
		return command{name: cmdNew, arg: tail}
	case "/analyze":
		file, question, _ := strings.Cut(tail, " ")
		return command{name: cmdAnalyze, arg: file, rest: strings.TrimSpace(question)}
	default:
		return command{name: cmdUnknown, arg: head}
	}
}
