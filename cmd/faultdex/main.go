package main

import (
	"os"

	"github.com/faultdex/faultdex/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
