// Command statectl inspects and edits persisted chat states offline.
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
