package main

import (
	"github.com/maxgio92/kacct/pkg/cmd"
)

func main() {
	cmd.Execute()
}
