package main

import "github.com/Abdull600/study-circle-voice/cmd"

func main() {
	cmd.Execute()
}
