package main

import "github.com/pankajthekush/renderbridge/cmd"

func main() {
	cmd.Execute()
}
