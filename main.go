package main

import "aquaduct.dev/sluice/cmd"

func main() {
	cmd.Execute()
}
