package main

import "github.com/co2light/co2light/cmd/co2light/cmd"

func main() {
	cmd.Execute()
}
