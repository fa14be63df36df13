package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/drpcorg/plitka/geo"
	"github.com/ergochat/readline"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("open"),
	readline.PcItem("close"),

	readline.PcItem("stroke"),
	readline.PcItem("text"),
	readline.PcItem("image"),
	readline.PcItem("link"),
	readline.PcItem("rm"),

	readline.PcItem("get"),
	readline.PcItem("query"),
	readline.PcItem("ls"),
	readline.PcItem("thumb"),

	readline.PcItem("pin"),
	readline.PcItem("unpin"),
	readline.PcItem("flush"),
	readline.PcItem("clear"),
	readline.PcItem("audit"),
	readline.PcItem("stats"),
	readline.PcItem("dump"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func main() {
	l, err := readline.NewEx(&readline.Config{
		Prompt:          "◌ ", //"\033[31m◌\033[0m ",
		HistoryFile:     ".plitka_cmd_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	rp := REPL{rl: l, pins: make(map[geo.Key]bool)}

	if len(os.Args) > 1 {
		if err = rp.CommandOpen(os.Args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-1)
		}
	}

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			} else {
				continue
			}
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		args := strings.Fields(line)
		cmd := args[0]
		args = args[1:]
		err = nil
		switch cmd {
		case "help":
			rp.CommandHelp()
		case "open":
			err = rp.CommandOpen(args)
		case "close":
			err = rp.CommandClose()
		case "stroke":
			err = rp.CommandStroke(args)
		case "text":
			err = rp.CommandText(args)
		case "image":
			err = rp.CommandImage(args)
		case "link":
			err = rp.CommandLink(args)
		case "rm":
			err = rp.CommandRemove(args)
		case "get":
			err = rp.CommandGet(args)
		case "query":
			err = rp.CommandQuery(args)
		case "ls", "list":
			err = rp.CommandList()
		case "thumb":
			err = rp.CommandThumb(args)
		case "pin":
			err = rp.CommandPin(args, true)
		case "unpin":
			err = rp.CommandPin(args, false)
		case "flush":
			err = rp.CommandFlush()
		case "clear":
			err = rp.CommandClear()
		case "audit":
			err = rp.CommandAudit()
		case "stats":
			err = rp.CommandStats()
		case "dump":
			err = rp.CommandDump(args)
		case "exit", "quit":
			ex := 0
			if err = rp.CommandClose(); err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				ex = -1
			}
			os.Exit(ex)
		default:
			fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "Error executing %s: %s\n", cmd, err.Error())
		}
	}
	_ = rp.CommandClose()
}
