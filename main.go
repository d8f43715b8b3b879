package main

import "github.com/markb/chatsync/cmd"

func main() {
	cmd.Execute()
}
