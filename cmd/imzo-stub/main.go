package main

import (
	"log"

	"imzo/cmd/internal/stubserver"
)

func main() {
	if err := stubserver.Run(); err != nil {
		log.Fatal(err)
	}
}
