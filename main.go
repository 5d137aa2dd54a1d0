package main

import "github.com/stacia-study/rucsbot/cmd"

func main() {
	cmd.Execute()
}
