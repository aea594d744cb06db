package main

import "github.com/vietddude/queuerunner/internal/cli"

func main() {
	cli.Execute()
}
