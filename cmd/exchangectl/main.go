// Command exchangectl is a thin interactive client for exercising the
// exchange's plain-TCP wire protocol by hand. Grounded in the reference
// decoder command's flag-driven, single-purpose CLI shape
// (cmd/decoder/main.go), re-targeted from offline feed decoding to a live
// request/response REPL against exchanged.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
)

func main() {
	addr := flag.String("addr", "localhost:9100", "exchanged TCP address")
	name := flag.String("name", "", "client name")
	password := flag.String("password", "", "client password")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "exchangectl: dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	if *name != "" {
		fmt.Fprintf(conn, "Authentification Request: %s %s\n", *name, *password)
		reply, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "exchangectl: auth: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(reply)
	}

	stdin := bufio.NewScanner(os.Stdin)
	for stdin.Scan() {
		line := stdin.Text()
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintln(conn, line); err != nil {
			fmt.Fprintf(os.Stderr, "exchangectl: write: %v\n", err)
			return
		}
		reply, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "exchangectl: read: %v\n", err)
			return
		}
		fmt.Print(reply)
	}
}
