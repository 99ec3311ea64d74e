package main

import (
	"github.com/tntapple219/discord-ai-bot-template/cmd"
)

func main() {
	cmd.Execute()
}
