package main

import "github.com/mohammedhisham1/Stock-Price-Alerting/internal/cli"

func main() {
	cli.Execute()
}
