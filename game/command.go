package game

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCommand is matched by every error Parse returns.
var ErrInvalidCommand = errors.New("invalid command")

type CommandKind int

const (
	CmdSetDirection CommandKind = iota
	CmdStart
	CmdQuit
)

// Command is a parsed player intent. Dir is only meaningful for CmdSetDirection.
type Command struct {
	Kind CommandKind
	Dir  Direction
}

func SetDirection(d Direction) Command { return Command{Kind: CmdSetDirection, Dir: d} }
func Start() Command                   { return Command{Kind: CmdStart} }
func Quit() Command                    { return Command{Kind: CmdQuit} }

// String returns the canonical token, which Parse maps back to the same Command.
func (c Command) String() string {
	switch c.Kind {
	case CmdSetDirection:
		return c.Dir.String()
	case CmdStart:
		return "start"
	case CmdQuit:
		return "quit"
	}
	return fmt.Sprintf("command(%d)", int(c.Kind))
}

// InvalidCommandError carries the token that failed to parse.
type InvalidCommandError struct {
	Token string
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("unknown command %q (try: up/u, down/d, left/l, right/r, start/go, quit/q)", e.Token)
}

func (e *InvalidCommandError) Is(target error) bool {
	return target == ErrInvalidCommand
}

var commandTable = map[string]Command{
	"up":    SetDirection(Up),
	"u":     SetDirection(Up),
	"down":  SetDirection(Down),
	"d":     SetDirection(Down),
	"left":  SetDirection(Left),
	"l":     SetDirection(Left),
	"right": SetDirection(Right),
	"r":     SetDirection(Right),
	"start": Start(),
	"go":    Start(),
	"quit":  Quit(),
	"q":     Quit(),
	"exit":  Quit(),
}

// Parse maps a raw input token to a Command. Matching is case-insensitive.
func Parse(token string) (Command, error) {
	cmd, ok := commandTable[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return Command{}, &InvalidCommandError{Token: token}
	}
	return cmd, nil
}
