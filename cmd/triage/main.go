package main

import "mailtriage/internal/app"

func main() {
	app.Execute()
}
