package main

import (
	"log"

	"github.com/diogomanala/chatbot-saas-sub003/internal/app"
)

func main() {
	a, err := app.NewAPI()
	if err != nil {
		log.Fatal("error creating an application instance: ", err)
	}

	err = a.Run()
	if err != nil {
		log.Fatal("application startup error: ", err)
	}
}
