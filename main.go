package main

import "github.com/rishsane/humuter-sub000/cmd"

func main() {
	cmd.Execute()
}
