package main

import "github.com/jcdickinson/cratedoc/cmd"

func main() {
	cmd.Execute()
}
