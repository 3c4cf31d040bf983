package main

import "github.com/MeKo-Tech/osmscene/internal/cmd"

func main() {
	cmd.Execute()
}
