package main

import "gridmatch/cmd"

func main() {
	cmd.Execute()
}
