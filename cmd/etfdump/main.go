// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// etfdump reads concatenated version-prefixed external
// terms from files (or stdin) and prints one canonical
// line per term.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/erlkit/erlkit/etf"
)

func main() {
	flag.Parse()
	o := bufio.NewWriter(os.Stdout)
	defer o.Flush()
	args := flag.Args()
	if len(args) == 0 {
		args = []string{"-"}
	}
	for _, arg := range args {
		var err error
		var in *os.File
		if arg == "-" {
			in = os.Stdin
		} else {
			in, err = os.Open(arg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "can't open %q: %s\n", arg, err)
				os.Exit(1)
			}
		}
		if err := dump(o, in); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", arg, err)
			os.Exit(1)
		}
		if in != os.Stdin {
			in.Close()
		}
	}
}

func dump(w io.Writer, in io.Reader) error {
	buf, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	for len(buf) > 0 {
		t, rest, err := etf.Unmarshal(buf)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, t.String())
		buf = rest
	}
	return nil
}
