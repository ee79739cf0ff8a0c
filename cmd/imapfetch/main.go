package main

import "github.com/salvadorAnt/imapfetch/internal/cli"

func main() {
	cli.Execute()
}
