package main

import "github.com/backend-fx/build/cmd"

func main() {
	cmd.Execute()
}
