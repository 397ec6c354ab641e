package main

import (
	cmd "github.com/kerbaras/novels/cmd/novels"
)

func main() {
	cmd.Execute()
}
