package main

import "github.com/dosco/nlsqld/cmd"

func main() {
	cmd.Cmd()
}
