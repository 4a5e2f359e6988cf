package main

import (
	"log"

	"github.com/diogomanala/chatbot-saas-sub003/internal/app"
)

func main() {
	w, err := app.NewWorker()
	if err != nil {
		log.Fatal("error creating a worker instance: ", err)
	}

	if err := w.Run(); err != nil {
		log.Fatal("worker error: ", err)
	}
}
