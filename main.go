package main

import (
	"github.com/chrizbee/whistledetector/cmd"
	"github.com/chrizbee/whistledetector/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
