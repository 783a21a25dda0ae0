package main

import (
	"os"

	"github.com/CodeMonkeyCybersecurity/horae/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
