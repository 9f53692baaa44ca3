/*
Copyright (C) 2026  nodekv contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Command nodekv-cli is an interactive RESP client, grounded on
// scm/prompt.go's Repl: a chzyer/readline loop with history, a
// recover-guarded eval step so one bad command doesn't kill the whole
// session, and a distinct prompt for the result line.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/nodekv/nodekv/internal/resp"
)

const (
	prompt       = "\033[32mnodekv>\033[0m "
	resultPrefix = "\033[31m=\033[0m "
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "node address to connect to")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Println("nodekv-cli: connect:", err)
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	l, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       ".nodekv-cli-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	fmt.Printf("connected to %s\n", *addr)
	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Println("panic:", r, string(debug.Stack()))
				}
			}()
			args := splitArgs(line)
			if len(args) == 0 {
				return
			}
			if err := sendCommand(w, args); err != nil {
				fmt.Println("nodekv-cli: send:", err)
				return
			}
			reply, err := resp.Decode(r)
			if err != nil {
				fmt.Println("nodekv-cli: read reply:", err)
				return
			}
			fmt.Print(resultPrefix)
			fmt.Println(formatValue(reply))
		}()
	}
}

// splitArgs is a minimal whitespace tokenizer with double-quote support
// ("hello world" as one argument), enough for interactive use without
// pulling in a shell-lexer dependency for a debug CLI.
func splitArgs(line string) []string {
	var args []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			args = append(args, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return args
}

func sendCommand(w *bufio.Writer, args []string) error {
	elems := make([]resp.Value, len(args))
	for i, a := range args {
		elems[i] = resp.BulkString([]byte(a))
	}
	if err := resp.Encode(w, resp.Array(elems...)); err != nil {
		return err
	}
	return w.Flush()
}

// formatValue renders a reply the way redis-cli does for its basic
// kinds: bulk/simple strings bare, integers as "(integer) N", errors
// as "(error) ...", arrays indexed and indented one level, nulls as
// "(nil)".
func formatValue(v resp.Value) string {
	return formatValueIndent(v, 0)
}

func formatValueIndent(v resp.Value, depth int) string {
	indent := strings.Repeat("  ", depth)
	switch v.Kind {
	case resp.KindError:
		return "(error) " + v.Str
	case resp.KindSimple:
		return v.Str
	case resp.KindInteger:
		return "(integer) " + strconv.FormatInt(v.Int, 10)
	case resp.KindBulk:
		if v.BulkNull {
			return "(nil)"
		}
		return `"` + string(v.Bulk) + `"`
	case resp.KindArray:
		if v.ArrayNull {
			return "(nil)"
		}
		if len(v.Array) == 0 {
			return "(empty array)"
		}
		var b strings.Builder
		for i, e := range v.Array {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%s%d) %s", indent, i+1, formatValueIndent(e, depth+1))
		}
		return b.String()
	default:
		return fmt.Sprintf("%+v", v)
	}
}
