package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/videoupload/cmd/cpeer-video-upload/app"
)

func main() {
	app.NewApp().Run()
}
