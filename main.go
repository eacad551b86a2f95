package main

import "github.com/calico0/parley/cmd"

func main() {
	cmd.Execute()
}
