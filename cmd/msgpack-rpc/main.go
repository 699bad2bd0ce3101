// Command msgpack-rpc calls methods on a msgpack-rpc server.
//
//	msgpack-rpc invoke -addr 127.0.0.1:18800 add 5 7
//	msgpack-rpc notify temperature 102.1
//
// Arguments are parsed as JSON values; anything that is not valid JSON is
// sent as a string.
package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ui := &cli.BasicUi{Writer: os.Stdout, ErrorWriter: os.Stderr}

	c := cli.NewCLI("msgpack-rpc", version)
	c.Args = args
	c.Commands = commands(ui)

	status, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %v\n", err)
		return 1
	}
	return status
}

func commands(ui cli.Ui) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"invoke": func() (cli.Command, error) { return newInvoke(ui), nil },
		"notify": func() (cli.Command, error) { return newNotify(ui), nil },
	}
}
