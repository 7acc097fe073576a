package main

import "github.com/aureeaubert/hull-closeio/cmd"

func main() {
	cmd.Execute()
}
