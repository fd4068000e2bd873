package main

import "github.com/xiaot623/gogo/acp/cmd/acp/cmd"

func main() {
	cmd.Execute()
}
