package main

import (
	"os"

	"github.com/ondrakrat/robot-client/driver"
	"github.com/ondrakrat/robot-client/utils"
)

func main() {
	log, err := utils.NewLogger()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	os.Exit(driver.Run(os.Args[1:], log))
}
