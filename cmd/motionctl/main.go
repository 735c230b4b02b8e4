package main

import "github.com/jvs-project/motion/internal/cli"

func main() {
	cli.Execute()
}
