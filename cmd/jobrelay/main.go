package main

import "github.com/miladsoleymani/jobrelay/cmd/jobrelay/cmd"

func main() {
	cmd.Execute()
}
