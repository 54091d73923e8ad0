package main

import "github.com/mikoworkspace/mikoproxy/cmd/mikoproxy/cmd"

func main() {
	cmd.Execute()
}
