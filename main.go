package main

import (
	"github.com/AsafMeizner/reels-battle/cmd"
	"github.com/AsafMeizner/reels-battle/internal/logging"
)

func main() {
	closer := logging.Init()
	defer closer.Close()
	cmd.Execute()
}
