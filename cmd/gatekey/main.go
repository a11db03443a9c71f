package main

import "github.com/jmcleod/gatekey/cmd/gatekey/cmd"

func main() {
	cmd.Execute()
}
