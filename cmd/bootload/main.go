package main

import (
	"fmt"
	"os"
	"sort"

	log "github.com/sirupsen/logrus"
)

const appVersion = "1.0.0"

var commands = map[string]func(args []string) error{
	"flash": cmdFlash,
	"mn":    cmdTarget("mn"),
	"ex":    cmdTarget("ex"),
	"re":    cmdTarget("re"),
	"habs":  cmdTarget("habs"),
	"bt121": cmdBT121,
	"xbee":  cmdXbee,
	"list":  cmdList,
	"init":  cmdInit,
}

func usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(os.Stderr, "usage: bootload <command> [flags]\n\ncommands: %v\n\n", names)
	fmt.Fprintf(os.Stderr, "run `bootload <command> -h` for the flags of each command\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	name := os.Args[1]
	if name == "version" || name == "-version" || name == "--version" {
		fmt.Println(appVersion)
		return
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	if err := cmd(os.Args[2:]); err != nil {
		log.Fatal(err)
	}
}
