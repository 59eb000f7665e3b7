package main

import (
	"os"

	"horse.fit/websetdedup/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
