package main

import (
	"log"

	"lead-enricher/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
