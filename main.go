package main

import "github.com/romkeep/romkeep/cmd"

func main() {
	cmd.Execute()
}
