package main

import "github.com/camden-git/facewatch/cmd"

func main() {
	cmd.Execute()
}
