package main

import "github.com/entrepeneur4lyf/kbchat/cmd/kbchat/cmd"

func main() {
	cmd.Execute()
}
