package main

import "github.com/oar-cd/moor/cmd/root"

func main() {
	root.Execute()
}
