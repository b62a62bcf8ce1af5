package main

import (
	"log"

	"tuthub/cmd/internal/app"
)

func main() {
	if err := app.Execute(); err != nil {
		log.Fatal(err)
	}
}
