package main

import "github.com/longkey1/llmrelay/cmd"

func main() {
	cmd.Execute()
}
