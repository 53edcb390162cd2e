package chat

import (
	"strings"
	"unicode"
)

// InputKind classifies chat input.
type InputKind int

const (
	// Plain is an ordinary chat message.
	Plain InputKind = iota
	// Command is a slash command such as "/join general".
	Command
)

// Command names understood by the router.
const (
	CommandJoin  = "join"
	CommandLeave = "leave"
)

// Input is parsed chat text.
type Input struct {
	Kind InputKind
	// Name is the command name without the slash. Empty for Plain.
	Name string
	// Arg is the trimmed remainder after the command name.
	Arg string
	// Text is the trimmed input.
	Text string
}

// ParseInput splits text into a plain message or a command. Input whose
// trimmed form starts with "/" is a command; the first whitespace-delimited
// token after the slash is its name and the trimmed rest is its argument.
func ParseInput(text string) Input {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Input{Kind: Plain, Text: text}
	}

	body := text[1:]
	name, arg := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		name, arg = body[:i], body[i+1:]
	}
	return Input{
		Kind: Command,
		Name: name,
		Arg:  strings.TrimSpace(arg),
		Text: text,
	}
}
