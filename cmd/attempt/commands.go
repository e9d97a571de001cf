package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-engine/internal/model"
)

type verb string

const (
	verbNext    verb = "next"
	verbPrev    verb = "prev"
	verbJump    verb = "jump"
	verbAnswer  verb = "ans"
	verbClear   verb = "clear"
	verbReview  verb = "review"
	verbSubmit  verb = "submit"
	verbConfirm verb = "confirm"
	verbCancel  verb = "cancel"
	verbView    verb = "view"
	verbHelp    verb = "help"
	verbQuit    verb = "quit"
)

func lookupVerb(word string) (verb, bool) {
	switch strings.ToLower(word) {
	case "n", "next":
		return verbNext, true
	case "p", "prev":
		return verbPrev, true
	case "j", "jump":
		return verbJump, true
	case "a", "ans":
		return verbAnswer, true
	case "clear":
		return verbClear, true
	case "r", "review":
		return verbReview, true
	case "submit":
		return verbSubmit, true
	case "y", "confirm":
		return verbConfirm, true
	case "cancel":
		return verbCancel, true
	case "v", "view":
		return verbView, true
	case "h", "help", "?":
		return verbHelp, true
	case "q", "quit", "exit":
		return verbQuit, true
	}
	return "", false
}

type command struct {
	verb  verb
	arg   string
	index int // zero-based, for jump
}

var (
	errEmpty       = errors.New("empty command")
	errUnknownVerb = errors.New("unknown command, type help")
)

// parseCommand reads one input line. The answer argument keeps its inner
// spacing since fill-in answers may contain several words.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errEmpty
	}
	word, rest, _ := strings.Cut(line, " ")
	v, ok := lookupVerb(word)
	if !ok {
		return command{}, errUnknownVerb
	}
	cmd := command{verb: v, arg: strings.TrimSpace(rest)}

	switch v {
	case verbJump:
		n, err := strconv.Atoi(cmd.arg)
		if err != nil || n < 1 {
			return command{}, fmt.Errorf("jump needs a question number")
		}
		cmd.index = n - 1
	case verbAnswer:
		if cmd.arg == "" {
			return command{}, fmt.Errorf("ans needs a value, use clear to remove an answer")
		}
	}
	return cmd, nil
}

// optionLabel is the letter shown next to the i-th option.
func optionLabel(i int) string {
	return string(rune('a' + i))
}

// resolveAnswer maps user input to the raw answer value: an option letter or
// number becomes the option id, anything else passes through as text.
func resolveAnswer(q *model.Question, input string) (string, error) {
	if !q.Type.SelectsOption() {
		return input, nil
	}

	key := strings.ToLower(strings.TrimSpace(input))
	for i, o := range q.Options {
		if key == optionLabel(i) || key == strconv.Itoa(i+1) || strings.EqualFold(key, o.Text) {
			return o.ID, nil
		}
	}
	return "", fmt.Errorf("no option %q", input)
}

const helpText = `Commands:
  next | n            next question
  prev | p            previous question
  jump N | j N        go to question N
  ans VALUE | a VALUE answer the current question (option letter, number or text)
  clear               remove the current answer
  review | r          toggle mark for review
  submit              ask to submit, then confirm | y or cancel
  view | v            redraw the current question
  quit | q            leave (the attempt keeps running on the server)
`
