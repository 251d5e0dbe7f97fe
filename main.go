package main

import "github.com/nextlevelbuilder/dectpair/cmd"

func main() {
	cmd.Execute()
}
