package main

import "github.com/oshokin/plugctl/cmd/plugctl/cmd"

func main() {
	cmd.Execute()
}
