package main

import "github.com/opaldolphin/opaldolphin/cmd"

func main() {
	cmd.Execute()
}
