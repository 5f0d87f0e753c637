package main

import "github.com/MeKo-Tech/raydet/cmd/raydet/cmd"

func main() {
	cmd.Execute()
}
